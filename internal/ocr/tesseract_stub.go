//go:build !tesseract

package ocr

import (
	"context"
	"errors"
)

var errNoTesseract = errors.New("built without the tesseract tag")

type tesseractStub struct{}

// NewTesseract returns an engine that reports every image as unscannable.
// Build with -tags tesseract to link libtesseract.
func NewTesseract(opts TesseractOptions) Engine {
	return tesseractStub{}
}

func (tesseractStub) Name() string { return "tesseract" }

func (tesseractStub) Extract(ctx context.Context, img []byte) ([]Token, error) {
	return nil, unavailable("tesseract", errNoTesseract)
}
