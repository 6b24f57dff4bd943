//go:build !mupdf

package document

import (
	"context"
	"errors"
)

var errNoMuPDF = errors.New("built without the mupdf tag")

type mupdfStub struct {
	opts RenderOptions
}

// NewRenderer returns a renderer that reports every PDF as unscannable.
// Build with -tags mupdf to link MuPDF.
func NewRenderer(opts RenderOptions) Renderer {
	return mupdfStub{opts: opts.withDefaults()}
}

func (mupdfStub) Name() string { return "mupdf" }

func (s mupdfStub) DPI() float64 { return s.opts.DPI }

func (mupdfStub) Render(context.Context, []byte) ([][]byte, error) {
	return nil, unavailable("mupdf", errNoMuPDF)
}
