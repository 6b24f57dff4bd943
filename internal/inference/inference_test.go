package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatRequestMixedContent(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"user": "u-body",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [
				{"type": "text", "text": "read this"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGVsbG8="}}
			]}
		]
	}`)
	req, err := ParseChatRequest(body)
	require.NoError(t, err)

	n := req.Normalize("", "req-1")
	assert.Equal(t, "gpt-4o", n.Model)
	assert.Equal(t, "u-body", n.UserID)
	assert.Equal(t, "req-1", n.RequestID)
	require.Len(t, n.Messages, 2)
	assert.Equal(t, "be brief", n.Messages[0].Content)
	assert.Nil(t, n.Messages[0].Parts)
	require.Len(t, n.Messages[1].Parts, 2)
	assert.Equal(t, PartImage, n.Messages[1].Parts[1].Type)

	mime, data, err := DecodeDataURL(n.Messages[1].Parts[1].ImageURL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, "u-key", req.Normalize("u-key", "").UserID)
}

func TestParseChatRequestRejects(t *testing.T) {
	for name, body := range map[string]string{
		"invalid json":   `{`,
		"no model":       `{"messages":[{"role":"user","content":"x"}]}`,
		"no messages":    `{"model":"m","messages":[]}`,
		"object content": `{"model":"m","messages":[{"role":"user","content":{}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChatRequest([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestTextsRewriteInPlace(t *testing.T) {
	plain := Message{Role: "user", Content: "a"}
	*plain.Texts()[0] = "b"
	assert.Equal(t, "b", plain.Content)

	multi := Message{Parts: []ContentPart{
		{Type: PartText, Text: "one"},
		{Type: PartImage, ImageURL: "https://example.com/x.png"},
		{Type: PartText, Text: "two"},
	}}
	slots := multi.Texts()
	require.Len(t, slots, 2)
	*slots[1] = "TWO"
	assert.Equal(t, "TWO", multi.Parts[2].Text)
}

func TestChatRequestApplyKeepsUnknownFields(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "content": null, "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "name": "lookup", "content": "ok"},
			{"role": "user", "content": [
				{"type": "text", "text": "mail bob@example.com", "cache_control": {"type": "ephemeral"}},
				{"type": "image", "image": "data:image/png;base64,aGVsbG8="},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGVsbG8=", "detail": "low"}},
				{"type": "input_audio", "input_audio": {"data": "AAAA", "format": "wav"}}
			]}
		]
	}`)
	chat, err := ParseChatRequest(body)
	require.NoError(t, err)

	n := chat.Normalize("", "req-1")
	require.Len(t, n.Messages[2].Parts, 4)
	assert.Equal(t, PartImageData, n.Messages[2].Parts[1].Type)
	assert.True(t, n.Messages[2].Parts[1].Type.IsImage())
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", n.Messages[2].Parts[1].ImageURL)
	assert.Equal(t, PartType("input_audio"), n.Messages[2].Parts[3].Type)

	n.Messages[1].Content = "fine"
	n.Messages[2].Parts[0].Text = "mail [REDACTED_EMAIL]"
	n.Messages[2].Parts[1].ImageURL = "data:image/png;base64,eA=="
	n.Messages[2].Parts[2].ImageURL = "data:image/png;base64,eQ=="
	chat.Apply(n)

	out, err := json.Marshal(chat.Messages)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role": "assistant", "content": null, "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]},
		{"role": "tool", "tool_call_id": "call_1", "name": "lookup", "content": "fine"},
		{"role": "user", "content": [
			{"type": "text", "text": "mail [REDACTED_EMAIL]", "cache_control": {"type": "ephemeral"}},
			{"type": "image", "image": "data:image/png;base64,eA=="},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,eQ==", "detail": "low"}},
			{"type": "input_audio", "input_audio": {"data": "AAAA", "format": "wav"}}
		]}
	]`, string(out))
}

func TestChatMessageWithoutContentStaysWithoutContent(t *testing.T) {
	var m ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","tool_calls":[]}`), &m))
	m.Apply(m.Normalize())
	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","tool_calls":[]}`, string(out))
}

func TestChatPartBareImageURLString(t *testing.T) {
	var p ChatPart
	require.NoError(t, json.Unmarshal([]byte(`{"type":"image_url","image_url":"data:image/png;base64,aGVsbG8="}`), &p))
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", p.URL)
	p.URL = "data:image/png;base64,eA=="
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image_url","image_url":"data:image/png;base64,eA=="}`, string(out))
}

func TestImagePartWithImageURLKey(t *testing.T) {
	var p ChatPart
	require.NoError(t, json.Unmarshal([]byte(`{"type":"image","image_url":"https://example.com/image.jpg"}`), &p))
	n := ChatMessage{Parts: []ChatPart{p}}.Normalize()
	assert.Equal(t, PartImageData, n.Parts[0].Type)
	assert.Equal(t, "https://example.com/image.jpg", n.Parts[0].ImageURL)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image","image_url":"https://example.com/image.jpg"}`, string(out))
}

func TestDecodeDataURLErrors(t *testing.T) {
	_, _, err := DecodeDataURL("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURL)
	_, _, err = DecodeDataURL("data:image/png,raw")
	assert.ErrorIs(t, err, ErrNotDataURL)
	_, _, err = DecodeDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
}
