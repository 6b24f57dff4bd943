//go:build !tesseract

package ocr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

func TestTesseractStubUnavailable(t *testing.T) {
	e := NewTesseract(TesseractOptions{})
	assert.Equal(t, "tesseract", e.Name())
	_, err := e.Extract(context.Background(), []byte{1, 2, 3})
	assert.ErrorIs(t, err, safety.ErrDetectionUnavailable)
}
