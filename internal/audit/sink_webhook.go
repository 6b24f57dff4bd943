package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

// WebhookOptions tunes a WebhookSink.
type WebhookOptions struct {
	Headers map[string]string
	Timeout time.Duration
	// Backoffs are the waits between attempts; len(Backoffs)+1 attempts are
	// made in total.
	Backoffs []time.Duration
}

var defaultBackoffs = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook status %d body=%q", e.Code, e.Body)
}

// retryable is false for client errors other than timeouts and rate limits;
// resending the same event cannot fix them.
func (e *StatusError) retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	}
	return true
}

// WebhookSink POSTs each event as a JSON body.
type WebhookSink struct {
	url      string
	headers  http.Header
	backoffs []time.Duration
	client   *http.Client
}

func NewWebhookSink(url string, opts WebhookOptions) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Backoffs == nil {
		opts.Backoffs = defaultBackoffs
	}
	hdr := make(http.Header, len(opts.Headers)+1)
	hdr.Set("Content-Type", "application/json")
	for k, v := range maps.All(opts.Headers) {
		hdr.Set(k, v)
	}
	return &WebhookSink{
		url:      url,
		headers:  hdr,
		backoffs: opts.Backoffs,
		client:   &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

// Deliver retries transport errors and retryable statuses with the
// configured backoffs and returns the last error.
func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	err = s.post(ctx, ev.ID, payload)
	for _, wait := range s.backoffs {
		var se *StatusError
		if err == nil || (errors.As(err, &se) && !se.retryable()) {
			return err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
		err = s.post(ctx, ev.ID, payload)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = s.headers.Clone()
	req.Header.Set("X-Straja-DLP-Event", eventID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 201))
	se := &StatusError{Code: resp.StatusCode, Body: string(body)}
	if len(body) > 200 {
		se.Body = string(body[:200]) + "..."
	}
	return se
}

func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}
