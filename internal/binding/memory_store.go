package binding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	bindings map[string]Binding
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[string]Binding)}
}

func (s *MemoryStore) Lookup(_ context.Context, licenseKey string) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Binding{}, fmt.Errorf("memory store is closed")
	}
	b, ok := s.bindings[strings.TrimSpace(licenseKey)]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrNotFound, licenseKey)
	}
	return b, nil
}

func (s *MemoryStore) Bind(_ context.Context, b Binding) (Binding, error) {
	if err := validateBinding(b); err != nil {
		return Binding{}, err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Binding{}, fmt.Errorf("memory store is closed")
	}

	existing, ok := s.bindings[b.LicenseKey]
	if !ok {
		b.BoundAt = now
		b.LastSeenAt = now
		s.bindings[b.LicenseKey] = b
		return b, nil
	}
	if existing.Device != b.Device {
		return Binding{}, mismatch(existing)
	}
	existing.LastSeenAt = now
	if b.Login != "" {
		existing.Login = b.Login
	}
	if b.PCName != "" {
		existing.PCName = b.PCName
	}
	s.bindings[b.LicenseKey] = existing
	return existing, nil
}

func (s *MemoryStore) Rebind(_ context.Context, licenseKey, oldDevice, newDevice string) (Binding, error) {
	if strings.TrimSpace(newDevice) == "" {
		return Binding{}, fmt.Errorf("new device is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Binding{}, fmt.Errorf("memory store is closed")
	}

	existing, ok := s.bindings[licenseKey]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrNotFound, licenseKey)
	}
	if existing.Device != oldDevice {
		return Binding{}, mismatch(existing)
	}
	now := time.Now().UTC()
	existing.Device = newDevice
	existing.BoundAt = now
	existing.LastSeenAt = now
	s.bindings[licenseKey] = existing
	return existing, nil
}

func (s *MemoryStore) Unbind(_ context.Context, licenseKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.bindings[licenseKey]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, licenseKey)
	}
	delete(s.bindings, licenseKey)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
