// Package license talks to the external license authority, the only source
// of truth for whether a key may be used on a device.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"reelstack.local/reel-gateway/internal/ids"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultPlan    = "basic"

	maxBodyBytes = 1 << 20
)

var (
	// ErrRejected means the authority answered and refused the key.
	ErrRejected = errors.New("license rejected")
	// ErrUnavailable means no trustworthy answer was obtained.
	ErrUnavailable = errors.New("license authority unavailable")
)

// Entitlement is what a valid license grants.
type Entitlement struct {
	Plan string `json:"plan"`
}

// Validator is the license authority contract.
type Validator interface {
	Validate(ctx context.Context, licenseKey, device string) (Entitlement, error)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	projectID  string
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(baseURL, projectID string, timeout time.Duration, logger *log.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		projectID:  strings.TrimSpace(projectID),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type validateRequest struct {
	ActivationKey string `json:"activation_key"`
	HardwareID    string `json:"hardware_id"`
	ProjectID     string `json:"project_id"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Plan    string `json:"plan"`
	Message string `json:"message"`
}

// Validate asks the authority about licenseKey on device. Any outcome other
// than an explicit positive answer is an error.
func (c *Client) Validate(ctx context.Context, licenseKey, device string) (Entitlement, error) {
	if c.baseURL == "" {
		return Entitlement{}, fmt.Errorf("%w: authority url not configured", ErrUnavailable)
	}
	body, err := json.Marshal(validateRequest{
		ActivationKey: licenseKey,
		HardwareID:    device,
		ProjectID:     c.projectID,
	})
	if err != nil {
		return Entitlement{}, fmt.Errorf("marshal validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return Entitlement{}, fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	key := ids.Redact(licenseKey, 8)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("license validate failed license=%s err=%v", key, err)
		return Entitlement{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("license validate failed license=%s status=%d", key, resp.StatusCode)
		return Entitlement{}, fmt.Errorf("%w: authority status=%d", ErrUnavailable, resp.StatusCode)
	}

	var decoded validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded); err != nil {
		c.logger.Printf("license validate failed license=%s err=decode response: %v", key, err)
		return Entitlement{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !decoded.Valid {
		message := strings.TrimSpace(decoded.Message)
		if message == "" {
			message = "invalid or expired license"
		}
		c.logger.Printf("license rejected license=%s msg=%s", key, message)
		return Entitlement{}, fmt.Errorf("%w: %s", ErrRejected, message)
	}

	plan := strings.TrimSpace(decoded.Plan)
	if plan == "" {
		plan = DefaultPlan
	}
	c.logger.Printf("license valid license=%s plan=%s", key, plan)
	return Entitlement{Plan: plan}, nil
}
