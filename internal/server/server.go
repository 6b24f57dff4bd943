// Package server exposes the guard engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/auth"
	"github.com/straja-ai/straja-dlp/internal/guard"
	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/metrics"
)

// RequestIDHeader carries the caller's request id; one is generated when
// absent.
const RequestIDHeader = "X-Request-ID"

// Options wires a Server.
type Options struct {
	Guard        *guard.Guard
	Auth         *auth.Auth
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	MaxBodyBytes int64
	Version      string
}

// Server wraps the HTTP routes for the detection API.
type Server struct {
	mux          *http.ServeMux
	guard        *guard.Guard
	auth         *auth.Auth
	metrics      *metrics.Collector
	log          *zap.Logger
	maxBodyBytes int64
	version      string
	started      time.Time
}

// New registers every route. Guard is required.
func New(opts Options) (*Server, error) {
	if opts.Guard == nil {
		return nil, errors.New("server: guard is required")
	}
	s := &Server{
		mux:          http.NewServeMux(),
		guard:        opts.Guard,
		auth:         opts.Auth,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		maxBodyBytes: opts.MaxBodyBytes,
		version:      opts.Version,
		started:      time.Now(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 20 << 20
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.Handle("POST /v1/scan/text", s.authenticated(s.handleScanText))
	s.mux.Handle("POST /v1/scan/image", s.authenticated(s.handleScanImage))
	s.mux.Handle("POST /v1/scan/pdf", s.authenticated(s.handleScanPDF))
	s.mux.Handle("POST /v1/guard/chat", s.authenticated(s.handleGuardChat))
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("straja-dlp listening", zap.String("addr", addr), zap.String("version", s.version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type callerKey struct{}

type caller struct {
	userID    string
	requestID string
}

// authenticated resolves the caller identity and request id before next
// runs. With no api_keys configured every caller is accepted.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := caller{requestID: r.Header.Get(RequestIDHeader)}
		if c.requestID == "" {
			c.requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, c.requestID)

		if s.auth.Required() {
			token, ok := auth.ParseBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header", "authentication_error")
				return
			}
			id, ok := s.auth.Lookup(token)
			if !ok {
				s.log.Debug("unknown api key", zap.String("request_id", c.requestID), logging.Redacted("key", token))
				writeError(w, http.StatusUnauthorized, "invalid API key", "authentication_error")
				return
			}
			c.userID = id.UserID
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// resolveUser prefers the authenticated identity over what the body claims.
func (c caller) resolveUser(claimed string) string {
	switch {
	case c.userID != "":
		return c.userID
	case claimed != "":
		return claimed
	default:
		return auth.Anonymous
	}
}

type healthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version,omitempty"`
	Mode      string         `json:"mode"`
	Detectors []intel.Status `json:"detectors"`
	Images    bool           `json:"images"`
	LoadedAt  time.Time      `json:"config_loaded_at"`
	Uptime    string         `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.guard.Snapshot()
	statuses, images := s.guard.Detectors()
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Mode:      string(snap.Mode),
		Detectors: statuses,
		Images:    images,
		LoadedAt:  snap.LoadedAt,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
