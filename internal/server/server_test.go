package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/straja-dlp/internal/audit"
	"github.com/straja-ai/straja-dlp/internal/auth"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/document"
	"github.com/straja-ai/straja-dlp/internal/guard"
	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/metrics"
	"github.com/straja-ai/straja-dlp/internal/ocr"
	"github.com/straja-ai/straja-dlp/internal/scan"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) all() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.Event(nil), r.events...)
}

type testEnv struct {
	srv     *Server
	emitter *recordingEmitter
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	snap, err := cfg.Snapshot()
	require.NoError(t, err)

	text := scan.NewPipeline([]intel.Detector{
		intel.NewRegexBundle(intel.BundleOptions{}),
		intel.NewEntropyDetector(intel.EntropyOptions{}),
	}, scan.Options{})
	img := scan.NewImagePipeline(text, &ocr.Static{Tokens: []ocr.Token{
		{Text: "mail:", Box: image.Rect(10, 10, 60, 30)},
		{Text: "alice@example.com", Box: image.Rect(10, 40, 200, 60), Line: 1},
	}})

	m := metrics.New(metrics.Config{})
	em := &recordingEmitter{}
	g, err := guard.New(guard.Options{
		Text:      text,
		Image:     img,
		Snapshots: config.NewStore(snap),
		Audit:     em,
		Metrics:   m,
		Documents: &document.Static{Pages: [][]byte{whitePNG(t)}},
	})
	require.NoError(t, err)

	authz, err := auth.NewFromConfig(cfg)
	require.NoError(t, err)

	srv, err := New(Options{
		Guard:        g,
		Auth:         authz,
		Metrics:      m,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      "test",
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, emitter: em}
}

func whitePNG(t *testing.T) []byte {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 300, 80))
	draw.Draw(src, src.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return buf.Bytes()
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body healthResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "enforce", body.Mode)
	assert.True(t, body.Images)
	assert.Len(t, body.Detectors, 2)
}

func TestScanTextMasks(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/scan/text",
		`{"text":"my email is john@example.com","model":"gpt-4o","user_id":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, rr.Header().Get(guard.WarningHeader))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	var body scanTextResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "my email is [REDACTED_EMAIL]", body.Content)
	require.Len(t, body.Matches, 1)
	assert.Equal(t, "email", string(body.Matches[0].Type))
	assert.NotContains(t, rr.Body.String(), "john@example.com")

	events := env.emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, body.RequestID, events[0].RequestID)
}

func TestScanTextBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/scan/text",
		`{"text":"card 4111 1111 1111 1111","model":"gpt-4o"}`, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var body struct {
		Blocked  bool     `json:"blocked"`
		PIITypes []string `json:"pii_types"`
		Error    struct {
			Message  string   `json:"message"`
			Type     string   `json:"type"`
			PIITypes []string `json:"pii_types"`
		} `json:"error"`
	}
	decodeBody(t, rr, &body)
	assert.True(t, body.Blocked)
	assert.Equal(t, []string{"credit_card"}, body.PIITypes)
	assert.Equal(t, "Request blocked: Detected sensitive data (credit_card)", body.Error.Message)
	assert.Equal(t, "policy_blocked", body.Error.Type)
	assert.Equal(t, []string{"credit_card"}, body.Error.PIITypes)
	assert.NotContains(t, rr.Body.String(), "4111")
}

func TestScanTextWarnHeader(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Mode = "warn" })
	rr := env.do(t, http.MethodPost, "/v1/scan/text",
		`{"text":"card 4111 1111 1111 1111","model":"gpt-4o"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, guard.WarningValue, rr.Header().Get(guard.WarningHeader))

	var body scanTextResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "card [REDACTED_CREDIT_CARD]", body.Content)
	assert.True(t, body.Warning)
}

func TestScanTextRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/scan/text", `{"text":`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestBodyLimitReturns413(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })
	rr := env.do(t, http.MethodPost, "/v1/scan/text", `{"text":"`+strings.Repeat("a", 64)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestAuthRequiredWhenKeysConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.APIKeys = []config.APIKeyConfig{{Key: "secret-key", UserID: "team-a"}}
	})
	body := `{"text":"john@example.com","user_id":"spoofed"}`

	rr := env.do(t, http.MethodPost, "/v1/scan/text", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/scan/text", body, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/scan/text", body, http.Header{
		"Authorization": {"Bearer secret-key"},
		RequestIDHeader: {"req-42"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))

	events := env.emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "team-a", events[0].UserID)
	assert.Equal(t, "req-42", events[0].RequestID)

	// Health stays open.
	rr = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardChatRewritesMessagesAndResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := `{
		"model": "gpt-4o",
		"user": "bob",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [{"type": "text", "text": "mail john@example.com"}]}
		],
		"response": {"role": "assistant", "content": "sure, call 555-123-4567"}
	}`
	rr := env.do(t, http.MethodPost, "/v1/guard/chat", payload, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		Response struct {
			Content string `json:"content"`
		} `json:"response"`
		Masked int `json:"masked"`
	}
	decodeBody(t, rr, &body)
	require.Len(t, body.Messages, 2)
	assert.JSONEq(t, `"be brief"`, string(body.Messages[0].Content))
	assert.JSONEq(t, `[{"type":"text","text":"mail [REDACTED_EMAIL]"}]`, string(body.Messages[1].Content))
	assert.Equal(t, "sure, call [REDACTED_PHONE]", body.Response.Content)
	assert.Equal(t, 2, body.Masked)

	for _, ev := range env.emitter.all() {
		assert.Equal(t, "bob", ev.UserID)
	}
}

func TestGuardChatKeepsToolFieldsAndMasksImagePart(t *testing.T) {
	env := newTestEnv(t, nil)

	src := image.NewRGBA(image.Rect(0, 0, 300, 80))
	draw.Draw(src, src.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	payload := `{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "content": null, "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "name": "lookup", "content": "ok"},
			{"role": "user", "content": [{"type": "image", "image": "` + dataURL + `"}]}
		]
	}`
	rr := env.do(t, http.MethodPost, "/v1/guard/chat", payload, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Messages []map[string]json.RawMessage `json:"messages"`
		Masked   int                          `json:"masked"`
	}
	decodeBody(t, rr, &body)
	require.Len(t, body.Messages, 3)
	assert.JSONEq(t, `null`, string(body.Messages[0]["content"]))
	assert.JSONEq(t, `[{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]`, string(body.Messages[0]["tool_calls"]))
	assert.JSONEq(t, `"call_1"`, string(body.Messages[1]["tool_call_id"]))
	assert.JSONEq(t, `"lookup"`, string(body.Messages[1]["name"]))
	assert.Equal(t, 1, body.Masked)

	var parts []struct {
		Type  string `json:"type"`
		Image string `json:"image"`
	}
	require.NoError(t, json.Unmarshal(body.Messages[2]["content"], &parts))
	require.Len(t, parts, 1)
	assert.Equal(t, "image", parts[0].Type)
	require.NotEqual(t, dataURL, parts[0].Image)

	b64, ok := strings.CutPrefix(parts[0].Image, "data:image/png;base64,")
	require.True(t, ok)
	out, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(100, 50).RGBA()
	assert.Zero(t, r+g+b)
}

func TestGuardChatBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/guard/chat",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"ssn 123-45-6789"}]}`, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"policy_blocked"`)
	assert.Contains(t, rr.Body.String(), `"ssn"`)
}

func TestGuardChatRequiresModel(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/guard/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScanImageMasks(t *testing.T) {
	env := newTestEnv(t, nil)

	src := image.NewRGBA(image.Rect(0, 0, 300, 80))
	draw.Draw(src, src.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	payload, err := json.Marshal(scanImageRequest{
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Model: "gpt-4o",
	})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/v1/scan/image", string(payload), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body scanImageResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, 1, body.Masked)
	assert.Equal(t, "png", body.Format)
	require.Len(t, body.Matches, 1)
	require.NotNil(t, body.Matches[0].Box)

	out, err := base64.StdEncoding.DecodeString(body.Image)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(100, 50).RGBA()
	assert.Zero(t, r+g+b)
}

func TestScanImageRejectsBadBase64(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/scan/image", `{"image":"!!!","model":"gpt-4o"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScanPDFMasksAndRebuilds(t *testing.T) {
	env := newTestEnv(t, nil)
	payload, err := json.Marshal(scanPDFRequest{
		Document: base64.StdEncoding.EncodeToString([]byte("%PDF-1.7\n")),
		Model:    "gpt-4o",
	})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/v1/scan/pdf", string(payload), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body scanPDFResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, 1, body.Pages)
	assert.Equal(t, 1, body.Masked)
	require.Len(t, body.Matches, 1)
	assert.Equal(t, "email", string(body.Matches[0].Type))

	out, err := base64.StdEncoding.DecodeString(body.Document)
	require.NoError(t, err)
	assert.True(t, document.IsPDF(out))
	assert.NotEqual(t, "%PDF-1.7\n", string(out))
}

func TestScanPDFRejectsMissingDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/v1/scan/pdf", `{"model":"gpt-4o"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "document is required")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/scan/text", `{"text":"john@example.com"}`, nil)

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	out, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), `straja_dlp_scans_total{outcome="masked",unit="request"} 1`)
}
