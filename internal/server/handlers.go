package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/guard"
	"github.com/straja-ai/straja-dlp/internal/inference"
	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

type scanTextRequest struct {
	Text   string `json:"text"`
	Model  string `json:"model"`
	UserID string `json:"user_id,omitempty"`
}

type scanImageRequest struct {
	// Image is standard base64 or a data: URL.
	Image  string `json:"image"`
	Model  string `json:"model"`
	UserID string `json:"user_id,omitempty"`
}

// matchView is a finding without its value.
type matchView struct {
	Type       safety.PIIType `json:"type"`
	Action     safety.Action  `json:"action"`
	Reason     policy.Reason  `json:"reason"`
	Source     safety.Source  `json:"source"`
	Confidence float32        `json:"confidence"`
	Span       safety.Span    `json:"span"`
	Box        *safety.Box    `json:"box,omitempty"`
}

type scanTextResponse struct {
	RequestID   string      `json:"request_id"`
	Content     string      `json:"content"`
	Matches     []matchView `json:"matches"`
	Masked      int         `json:"masked"`
	Warning     bool        `json:"warning"`
	Unavailable bool        `json:"detection_unavailable,omitempty"`
}

type scanImageResponse struct {
	RequestID   string      `json:"request_id"`
	Image       string      `json:"image"`
	Format      string      `json:"format,omitempty"`
	Matches     []matchView `json:"matches"`
	Masked      int         `json:"masked"`
	Warning     bool        `json:"warning"`
	Unavailable bool        `json:"detection_unavailable,omitempty"`
}

type scanPDFRequest struct {
	// Document is standard base64 or a data: URL.
	Document string `json:"document"`
	Model    string `json:"model"`
	UserID   string `json:"user_id,omitempty"`
}

type scanPDFResponse struct {
	RequestID   string      `json:"request_id"`
	Document    string      `json:"document"`
	Pages       int         `json:"pages"`
	Matches     []matchView `json:"matches"`
	Masked      int         `json:"masked"`
	Warning     bool        `json:"warning"`
	Unavailable bool        `json:"detection_unavailable,omitempty"`
}

// guardChatRequest is an OpenAI chat body, optionally carrying the model's
// reply to check after the call.
type guardChatRequest struct {
	Response *inference.ChatMessage `json:"response,omitempty"`
}

type guardChatResponse struct {
	RequestID   string                  `json:"request_id"`
	Model       string                  `json:"model"`
	Messages    []inference.ChatMessage `json:"messages"`
	Response    *inference.ChatMessage  `json:"response,omitempty"`
	Masked      int                     `json:"masked"`
	Warning     bool                    `json:"warning"`
	Unavailable bool                    `json:"detection_unavailable,omitempty"`
}

func (s *Server) handleScanText(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	var body scanTextRequest
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.guard.ScanText(r.Context(), body.Text, guard.Meta{
		UserID:    c.resolveUser(body.UserID),
		RequestID: c.requestID,
		Model:     body.Model,
	})
	if err != nil {
		s.writeGuardError(w, c, err)
		return
	}
	setWarning(w, res.Warning)
	writeJSON(w, http.StatusOK, scanTextResponse{
		RequestID:   c.requestID,
		Content:     res.Content,
		Matches:     matchViews(res.Decisions),
		Masked:      res.Masked,
		Warning:     res.Warning,
		Unavailable: res.Unavailable,
	})
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	var body scanImageRequest
	if !s.decode(w, r, &body) {
		return
	}
	data, err := decodePayload("image", body.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	res, err := s.guard.ScanImage(r.Context(), data, guard.Meta{
		UserID:    c.resolveUser(body.UserID),
		RequestID: c.requestID,
		Model:     body.Model,
	})
	if err != nil {
		s.writeGuardError(w, c, err)
		return
	}
	setWarning(w, res.Warning)
	writeJSON(w, http.StatusOK, scanImageResponse{
		RequestID:   c.requestID,
		Image:       base64.StdEncoding.EncodeToString(res.Image),
		Format:      res.Format,
		Matches:     matchViews(res.Decisions),
		Masked:      res.Masked,
		Warning:     res.Warning,
		Unavailable: res.Unavailable,
	})
}

func (s *Server) handleScanPDF(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	var body scanPDFRequest
	if !s.decode(w, r, &body) {
		return
	}
	data, err := decodePayload("document", body.Document)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	res, err := s.guard.ScanPDF(r.Context(), data, guard.Meta{
		UserID:    c.resolveUser(body.UserID),
		RequestID: c.requestID,
		Model:     body.Model,
	})
	if err != nil {
		s.writeGuardError(w, c, err)
		return
	}
	setWarning(w, res.Warning)
	writeJSON(w, http.StatusOK, scanPDFResponse{
		RequestID:   c.requestID,
		Document:    base64.StdEncoding.EncodeToString(res.Document),
		Pages:       res.Pages,
		Matches:     matchViews(res.Decisions),
		Masked:      res.Masked,
		Warning:     res.Warning,
		Unavailable: res.Unavailable,
	})
}

func (s *Server) handleGuardChat(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}
	chat, err := inference.ParseChatRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	var extra guardChatRequest
	if err := json.Unmarshal(raw, &extra); err != nil {
		writeError(w, http.StatusBadRequest, "decode response message: "+err.Error(), "invalid_request_error")
		return
	}

	req := chat.Normalize(c.userID, c.requestID)
	req.UserID = c.resolveUser(req.UserID)
	before, err := s.guard.BeforeModel(r.Context(), req)
	if err != nil {
		s.writeGuardError(w, c, err)
		return
	}

	chat.Apply(req)
	out := guardChatResponse{
		RequestID:   c.requestID,
		Model:       req.Model,
		Messages:    chat.Messages,
		Masked:      before.Masked,
		Warning:     before.Warning,
		Unavailable: before.Unavailable,
	}

	if extra.Response != nil {
		resp := &inference.Response{Message: extra.Response.Normalize()}
		after, err := s.guard.AfterModel(r.Context(), req, resp)
		if err != nil {
			s.writeGuardError(w, c, err)
			return
		}
		extra.Response.Apply(resp.Message)
		out.Response = extra.Response
		out.Masked += after.Masked
		out.Warning = out.Warning || after.Warning
		out.Unavailable = out.Unavailable || after.Unavailable
	}

	setWarning(w, out.Warning)
	writeJSON(w, http.StatusOK, out)
}

// decode reads a JSON body into v, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	raw, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error")
		return false
	}
	return true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "invalid_request_error")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return nil, false
	}
	return raw, true
}

// decodePayload accepts standard base64 or a data: URL.
func decodePayload(field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	if strings.HasPrefix(s, "data:") {
		_, data, err := inference.DecodeDataURL(s)
		return data, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", field, err)
	}
	return data, nil
}

func matchViews(ds []policy.Decision) []matchView {
	out := make([]matchView, 0, len(ds))
	for _, d := range ds {
		out = append(out, matchView{
			Type:       d.Match.Type,
			Action:     d.Action,
			Reason:     d.Reason,
			Source:     d.Match.Source,
			Confidence: d.Match.Confidence,
			Span:       d.Match.Span,
			Box:        d.Match.Box,
		})
	}
	return out
}

func setWarning(w http.ResponseWriter, warning bool) {
	if warning {
		w.Header().Set(guard.WarningHeader, guard.WarningValue)
	}
}

type errorDetail struct {
	Message     string           `json:"message"`
	Type        string           `json:"type"`
	PIITypes    []safety.PIIType `json:"pii_types,omitempty"`
	Unavailable bool             `json:"detection_unavailable,omitempty"`
}

type errorBody struct {
	Blocked   bool             `json:"blocked,omitempty"`
	PIITypes  []safety.PIIType `json:"pii_types,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	Error     errorDetail      `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: typ}})
}

// writeGuardError maps a guard error to a response. Blocks are 403 with the
// detected types; anything else is an internal error.
func (s *Server) writeGuardError(w http.ResponseWriter, c caller, err error) {
	var blocked *safety.BlockedError
	if !errors.As(err, &blocked) {
		s.log.Error("guard failed", zap.String("request_id", c.requestID), logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "server_error")
		return
	}
	types := blocked.Types
	if types == nil {
		types = []safety.PIIType{}
	}
	writeJSON(w, http.StatusForbidden, errorBody{
		Blocked:   true,
		PIITypes:  types,
		RequestID: c.requestID,
		Error: errorDetail{
			Message:     blocked.Error(),
			Type:        "policy_blocked",
			PIITypes:    types,
			Unavailable: blocked.Unavailable,
		},
	})
}
