// Package binding persists the one-to-one mapping between a license key and
// the device it was activated on.
package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("binding not found")
	ErrDeviceMismatch = errors.New("license bound to another device")
	ErrInvalidToken   = errors.New("invalid session token")
)

type Binding struct {
	LicenseKey string    `json:"license_key"`
	Device     string    `json:"device"`
	PCName     string    `json:"pc_name"`
	Login      string    `json:"login"`
	BoundAt    time.Time `json:"bound_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Store is the binding persistence contract.
//
// Bind creates the binding when the key is unbound, refreshes last-seen,
// login and PC name when it is bound to the same device, and fails with
// ErrDeviceMismatch otherwise.
type Store interface {
	Lookup(ctx context.Context, licenseKey string) (Binding, error)
	Bind(ctx context.Context, b Binding) (Binding, error)
	Rebind(ctx context.Context, licenseKey, oldDevice, newDevice string) (Binding, error)
	Unbind(ctx context.Context, licenseKey string) error
	Close() error
}

func validateBinding(b Binding) error {
	if strings.TrimSpace(b.LicenseKey) == "" {
		return fmt.Errorf("license key is required")
	}
	if strings.TrimSpace(b.Device) == "" {
		return fmt.Errorf("device is required")
	}
	return nil
}

func mismatch(existing Binding) error {
	return fmt.Errorf("%w: pc=%s login=%s", ErrDeviceMismatch, existing.PCName, existing.Login)
}
