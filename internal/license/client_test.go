package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateSuccess(t *testing.T) {
	var got validateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/validate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"valid":true,"plan":"pro"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "reel", time.Second, nil)
	ent, err := c.Validate(context.Background(), "KEY-1", "device-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ent.Plan != "pro" {
		t.Fatalf("expected plan pro, got %s", ent.Plan)
	}
	if got.ActivationKey != "KEY-1" || got.HardwareID != "device-1" || got.ProjectID != "reel" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestValidateDefaultPlan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true}`))
	}))
	defer server.Close()

	ent, err := NewClient(server.URL, "reel", time.Second, nil).Validate(context.Background(), "KEY", "dev")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ent.Plan != DefaultPlan {
		t.Fatalf("expected default plan, got %s", ent.Plan)
	}
}

func TestValidateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false,"message":"expired"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "reel", time.Second, nil).Validate(context.Background(), "KEY", "dev")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected authority message in error, got %v", err)
	}
}

func TestValidateUnavailable(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer garbled.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	cases := map[string]*Client{
		"status":       NewClient(failing.URL, "reel", time.Second, nil),
		"decode":       NewClient(garbled.URL, "reel", time.Second, nil),
		"timeout":      NewClient(slow.URL, "reel", 50*time.Millisecond, nil),
		"unconfigured": NewClient("", "reel", time.Second, nil),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Validate(context.Background(), "KEY", "dev")
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}
