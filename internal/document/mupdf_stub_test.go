//go:build !mupdf

package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

func TestMuPDFStubUnavailable(t *testing.T) {
	r := NewRenderer(RenderOptions{})
	assert.Equal(t, "mupdf", r.Name())
	assert.Equal(t, 216.0, r.DPI())
	_, err := r.Render(context.Background(), []byte("%PDF-1.7"))
	assert.ErrorIs(t, err, safety.ErrDetectionUnavailable)
}
