package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// ChatRequest is the part of an OpenAI chat-completions body the guard
// inspects.
type ChatRequest struct {
	Model    string        `json:"model"`
	User     string        `json:"user,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage accepts content as a string, null or an array of parts.
// Fields the guard does not inspect (tool_calls, name, tool_call_id and
// anything else) are kept verbatim and written back on marshal.
type ChatMessage struct {
	Role    string
	Content string
	Parts   []ChatPart

	// hasText is set when content was a JSON string.
	hasText bool
	fields  map[string]json.RawMessage
}

// ChatPart is one OpenAI content part. Only the text, image_url.url and
// image slots are rewritten; every other key survives a round trip.
type ChatPart struct {
	Type string
	Text string
	// URL holds image_url.url for image_url parts and the image field for
	// image parts.
	URL string

	underURL bool
	fields   map[string]json.RawMessage
}

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*m = ChatMessage{fields: fields}
	if raw, ok := fields["role"]; ok {
		if err := json.Unmarshal(raw, &m.Role); err != nil {
			return fmt.Errorf("message role: %w", err)
		}
	}
	content := bytes.TrimSpace(fields["content"])
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '"':
		m.hasText = true
		return json.Unmarshal(content, &m.Content)
	case content[0] == '[':
		m.Parts = []ChatPart{}
		return json.Unmarshal(content, &m.Parts)
	default:
		return fmt.Errorf("message content must be a string, null or an array")
	}
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	out := maps.Clone(m.fields)
	if out == nil {
		out = map[string]json.RawMessage{}
		m.hasText = m.Parts == nil
	}
	if err := setField(out, "role", m.Role); err != nil {
		return nil, err
	}
	switch {
	case m.Parts != nil:
		if err := setField(out, "content", m.Parts); err != nil {
			return nil, err
		}
	case m.hasText:
		if err := setField(out, "content", m.Content); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (p *ChatPart) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*p = ChatPart{fields: fields}
	_ = json.Unmarshal(fields["type"], &p.Type)
	switch PartType(p.Type) {
	case PartText:
		_ = json.Unmarshal(fields["text"], &p.Text)
	case PartImage:
		p.URL = imageURLField(fields["image_url"])
	case PartImageData:
		if _, ok := fields["image"]; ok || fields["image_url"] == nil {
			_ = json.Unmarshal(fields["image"], &p.URL)
		} else {
			// Some clients put the URL of an image part under image_url.
			p.URL = imageURLField(fields["image_url"])
			p.underURL = true
		}
	}
	return nil
}

// imageURLField reads image_url as an object with a url key or as a bare
// string.
func imageURLField(raw json.RawMessage) string {
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (p ChatPart) MarshalJSON() ([]byte, error) {
	out := maps.Clone(p.fields)
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	if err := setField(out, "type", p.Type); err != nil {
		return nil, err
	}
	var err error
	switch PartType(p.Type) {
	case PartText:
		err = setField(out, "text", p.Text)
	case PartImage:
		err = setImageURL(out, p.URL)
	case PartImageData:
		if p.underURL {
			err = setImageURL(out, p.URL)
		} else {
			err = setField(out, "image", p.URL)
		}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// setImageURL writes image_url.url and keeps any sibling keys such as
// detail. A bare string image_url stays a string.
func setImageURL(fields map[string]json.RawMessage, url string) error {
	raw := bytes.TrimSpace(fields["image_url"])
	if len(raw) > 0 && raw[0] == '"' {
		return setField(fields, "image_url", url)
	}
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("decode image_url: %w", err)
		}
	}
	if err := setField(obj, "url", url); err != nil {
		return err
	}
	return setField(fields, "image_url", obj)
}

func setField(fields map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}

// ParseChatRequest decodes an OpenAI chat body.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("decode chat request: model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("decode chat request: messages must not be empty")
	}
	return &req, nil
}

// Normalize converts the wire request into a Request. Message and part
// indexes are preserved so Apply can write results back.
func (c *ChatRequest) Normalize(userID, requestID string) *Request {
	msgs := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, m.Normalize())
	}
	if userID == "" {
		userID = c.User
	}
	return &Request{
		Model:     c.Model,
		UserID:    userID,
		RequestID: requestID,
		Messages:  msgs,
	}
}

// Apply copies the text and image slots of req, as rewritten by the guard,
// back into the wire messages.
func (c *ChatRequest) Apply(req *Request) {
	for i := range c.Messages {
		if i < len(req.Messages) {
			c.Messages[i].Apply(req.Messages[i])
		}
	}
}

// Normalize converts one wire message.
func (m ChatMessage) Normalize() Message {
	msg := Message{Role: m.Role, Content: m.Content}
	if m.Parts != nil {
		msg.Parts = make([]ContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			msg.Parts = append(msg.Parts, ContentPart{Type: PartType(p.Type), Text: p.Text, ImageURL: p.URL})
		}
	}
	return msg
}

// Apply writes the rewritable slots of n back into m.
func (m *ChatMessage) Apply(n Message) {
	if m.Parts == nil {
		if m.hasText || m.fields == nil {
			m.Content = n.Content
		}
		return
	}
	for i := range m.Parts {
		if i >= len(n.Parts) {
			break
		}
		switch PartType(m.Parts[i].Type) {
		case PartText:
			m.Parts[i].Text = n.Parts[i].Text
		case PartImage, PartImageData:
			m.Parts[i].URL = n.Parts[i].ImageURL
		}
	}
}
