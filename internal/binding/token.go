package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DevicePrefixLen is how much of the device id a session token carries.
const DevicePrefixLen = 16

// Token builds the session token handed out on activation.
func Token(licenseKey, device string) string {
	prefix := device
	if len(prefix) > DevicePrefixLen {
		prefix = prefix[:DevicePrefixLen]
	}
	return licenseKey + ":" + prefix
}

// ParseToken splits a session token into license key and device prefix.
func ParseToken(token string) (licenseKey, devicePrefix string, err error) {
	token = strings.TrimSpace(token)
	i := strings.LastIndex(token, ":")
	if i <= 0 || i == len(token)-1 {
		return "", "", fmt.Errorf("%w: expected <license>:<device>", ErrInvalidToken)
	}
	return token[:i], token[i+1:], nil
}

type Authenticator struct {
	store Store
}

func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate resolves a session token to its binding. Unknown licenses
// and device prefixes that do not match the bound device both fail with
// ErrInvalidToken.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Binding, error) {
	licenseKey, prefix, err := ParseToken(token)
	if err != nil {
		return Binding{}, err
	}
	b, err := a.store.Lookup(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Binding{}, fmt.Errorf("%w: license not bound", ErrInvalidToken)
		}
		return Binding{}, err
	}
	if Token(b.LicenseKey, b.Device) != licenseKey+":"+prefix {
		return Binding{}, fmt.Errorf("%w: device mismatch", ErrInvalidToken)
	}
	return b, nil
}
