// Package inference holds the normalized chat request and response the
// guard engine operates on, independent of any provider wire format.
package inference

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// PartType discriminates content parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
	// PartImageData carries a data URL directly in an "image" field.
	PartImageData PartType = "image"
)

// IsImage reports whether parts of type t carry an image URL.
func (t PartType) IsImage() bool { return t == PartImage || t == PartImageData }

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type PartType
	Text string
	// ImageURL is either a data: URL or a remote URL. Remote images are not
	// fetched and therefore cannot be scanned.
	ImageURL string
}

// Message is a normalized chat message. Parts is nil for plain string
// content; when set, Content is ignored.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// Texts returns pointers to every text slot of the message so callers can
// rewrite them in place.
func (m *Message) Texts() []*string {
	if m.Parts == nil {
		return []*string{&m.Content}
	}
	var out []*string
	for i := range m.Parts {
		if m.Parts[i].Type == PartText {
			out = append(out, &m.Parts[i].Text)
		}
	}
	return out
}

// Request represents a normalized inference request.
type Request struct {
	Model     string
	UserID    string
	RequestID string
	Messages  []Message
}

// Usage holds token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response represents a normalized inference response.
type Response struct {
	Message Message
	Usage   Usage
}

var ErrNotDataURL = errors.New("not a base64 data URL")

// DecodeDataURL splits a data:<mime>;base64,<payload> URL.
func DecodeDataURL(url string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mime, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mime, data, nil
}

// EncodeDataURL is the inverse of DecodeDataURL.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
