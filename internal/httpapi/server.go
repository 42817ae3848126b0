package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelstack.local/reel-gateway/internal/activation"
	"reelstack.local/reel-gateway/internal/batch"
	"reelstack.local/reel-gateway/internal/binding"
	"reelstack.local/reel-gateway/internal/dispatch"
	"reelstack.local/reel-gateway/internal/license"
	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/session"
	"reelstack.local/reel-gateway/internal/tuning"
)

const maxRequestBytes int64 = 1 << 20

// Limits bounds what a single client connection may do.
type Limits struct {
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	AuthTimeout     time.Duration
	RatePerSecond   float64
	Burst           int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 64 << 10,
		IdleTimeout:     5 * time.Minute,
		AuthTimeout:     30 * time.Second,
		RatePerSecond:   20,
		Burst:           40,
	}
}

// Deps are the collaborators shared by the public and admin servers.
type Deps struct {
	Activation    *activation.Service
	Authenticator *binding.Authenticator
	Bindings      binding.Store
	Registry      *session.Registry
	Composer      *batch.Composer
	Dispatcher    *dispatch.Dispatcher
	// Policy returns the operator policy new sessions start from.
	Policy func() tuning.Policy
	Pairs  []rotation.Pair
	Limits Limits
	// SessionOptions are appended to the options of every new session.
	SessionOptions []session.Option
}

type server struct {
	logger *log.Logger
	deps   Deps
}

// NewServer builds the HTTP server. The public server exposes activation and
// the client websocket; the admin server exposes session and binding
// management and is meant to sit behind a unix socket.
func NewServer(logger *log.Logger, addr string, deps Deps, admin bool) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newHandler(logger, deps, admin),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newHandler(logger *log.Logger, deps Deps, admin bool) http.Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if deps.Policy == nil {
		deps.Policy = tuning.Defaults
	}
	if len(deps.Pairs) == 0 {
		deps.Pairs = rotation.DefaultPairs()
	}
	if deps.Limits == (Limits{}) {
		deps.Limits = DefaultLimits()
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry()
	}
	if deps.Composer == nil {
		deps.Composer = batch.NewComposer(logger)
	}

	s := &server{logger: logger, deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if admin {
		mux.HandleFunc("/v1/sessions", s.handleSessions)
		mux.HandleFunc("/v1/bindings/rebind", s.handleRebind)
		mux.HandleFunc("/v1/bindings/", s.handleBinding)
	} else {
		mux.HandleFunc("/auth/activate", s.handleActivate)
		mux.HandleFunc("/ws", s.handleWS)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": s.deps.Registry.Len(),
	})
}

type activateResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Token   string         `json:"token,omitempty"`
	Plan    string         `json:"plan,omitempty"`
	Rules   map[string]any `json:"rules,omitempty"`
}

func (s *server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Activation == nil {
		http.Error(w, "activation not configured", http.StatusNotImplemented)
		return
	}

	defer r.Body.Close()
	var req activation.Request
	if err := decodeBody(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, activateResponse{Message: err.Error()})
		return
	}

	result, err := s.deps.Activation.Activate(r.Context(), req)
	if err != nil {
		writeJSON(w, activationStatus(err), activateResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{
		Success: true,
		Message: "activated",
		Token:   result.Token,
		Plan:    result.Plan,
		Rules:   result.Rules,
	})
}

func activationStatus(err error) int {
	switch {
	case errors.Is(err, activation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrRejected):
		return http.StatusForbidden
	case errors.Is(err, binding.ErrDeviceMismatch):
		return http.StatusConflict
	case errors.Is(err, license.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(body io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	if dec.More() {
		return errors.New("invalid json: trailing content")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
