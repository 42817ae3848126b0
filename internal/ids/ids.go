package ids

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// New returns a 32-character random hex identifier.
func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// Prefixed returns prefix_<hex>. Prefixes make ids readable in logs
// (conn_..., batch_..., evt_...).
func Prefixed(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}

// Redact keeps the first n characters of a secret-ish value for logging.
func Redact(value string, n int) string {
	value = strings.TrimSpace(value)
	if n <= 0 || len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
