package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelstack.local/reel-gateway/internal/binding"
	"reelstack.local/reel-gateway/internal/ids"
	"reelstack.local/reel-gateway/internal/session"
)

type sessionView struct {
	ConnID      string           `json:"conn_id"`
	ConnectedAt time.Time        `json:"connected_at"`
	Session     session.Snapshot `json:"session"`
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := s.deps.Registry.Snapshot()
	out := make([]sessionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, sessionView{
			ConnID:      e.ConnID,
			ConnectedAt: e.ConnectedAt.UTC(),
			Session:     e.Session.Snapshot(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *server) handleBinding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bindings == nil {
		http.Error(w, "binding store not configured", http.StatusNotImplemented)
		return
	}
	key, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/v1/bindings/"))
	key = strings.TrimSpace(key)
	if err != nil || key == "" || strings.Contains(key, "/") {
		http.Error(w, "license key is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := s.deps.Bindings.Lookup(r.Context(), key)
		if err != nil {
			writeBindingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case http.MethodDelete:
		if err := s.deps.Bindings.Unbind(r.Context(), key); err != nil {
			writeBindingError(w, err)
			return
		}
		s.logger.Printf("binding removed license=%s", redactKey(key))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type rebindRequest struct {
	LicenseKey string `json:"license_key"`
	OldDevice  string `json:"old_device"`
	NewDevice  string `json:"new_device"`
}

func (s *server) handleRebind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Bindings == nil {
		http.Error(w, "binding store not configured", http.StatusNotImplemented)
		return
	}

	defer r.Body.Close()
	var req rebindRequest
	if err := decodeBody(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.OldDevice = strings.TrimSpace(req.OldDevice)
	req.NewDevice = strings.TrimSpace(req.NewDevice)
	if req.LicenseKey == "" || req.OldDevice == "" || req.NewDevice == "" {
		http.Error(w, "license_key, old_device and new_device are required", http.StatusBadRequest)
		return
	}

	b, err := s.deps.Bindings.Rebind(r.Context(), req.LicenseKey, req.OldDevice, req.NewDevice)
	if err != nil {
		writeBindingError(w, err)
		return
	}
	s.logger.Printf("binding moved license=%s pc_name=%s", redactKey(req.LicenseKey), b.PCName)
	writeJSON(w, http.StatusOK, b)
}

func writeBindingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, binding.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, binding.ErrDeviceMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "binding store error", http.StatusInternalServerError)
	}
}

func redactKey(licenseKey string) string {
	return ids.Redact(licenseKey, 8)
}
