package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(pngBytes(t, 12, 7))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 12, 7), img.Bounds())

	_, _, err = Decode(nil)
	assert.Error(t, err)
	_, _, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestStaticReturnsCopy(t *testing.T) {
	s := &Static{Tokens: []Token{{Text: "hello", Box: image.Rect(0, 0, 10, 10)}}}
	got, err := s.Extract(context.Background(), nil)
	require.NoError(t, err)
	got[0].Text = "mutated"
	assert.Equal(t, "hello", s.Tokens[0].Text)
}

func TestStaticFailureIsUnavailable(t *testing.T) {
	s := &Static{Err: errors.New("engine crashed")}
	_, err := s.Extract(context.Background(), nil)
	require.ErrorIs(t, err, safety.ErrDetectionUnavailable)
	assert.Contains(t, err.Error(), "engine crashed")
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	fixture := `[{"text":"4111","box":{"Min":{"X":1,"Y":2},"Max":{"X":30,"Y":12}},"line":0}]`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	s, err := LoadStatic(path)
	require.NoError(t, err)
	require.Len(t, s.Tokens, 1)
	assert.Equal(t, "4111", s.Tokens[0].Text)
	assert.Equal(t, image.Rect(1, 2, 30, 12), s.Tokens[0].Box)
}
