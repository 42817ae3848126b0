// Package activation admits a device: the license authority must accept the
// key, then the key is bound to the device and a session token issued.
package activation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"reelstack.local/reel-gateway/internal/binding"
	"reelstack.local/reel-gateway/internal/ids"
	"reelstack.local/reel-gateway/internal/license"
	"reelstack.local/reel-gateway/internal/tuning"
)

var ErrInvalidRequest = errors.New("invalid activation request")

type Request struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid"`
	PCName     string `json:"pc_name"`
}

type Result struct {
	Token   string          `json:"token"`
	Plan    string          `json:"plan"`
	Binding binding.Binding `json:"-"`
	Rules   map[string]any  `json:"rules"`
}

type Service struct {
	authority license.Validator
	store     binding.Store
	rules     func() tuning.Policy
	logger    *log.Logger
}

// NewService builds an activation service. rules supplies the policy
// advertised to newly activated clients.
func NewService(authority license.Validator, store binding.Store, rules func() tuning.Policy, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if rules == nil {
		rules = tuning.Defaults
	}
	return &Service{authority: authority, store: store, rules: rules, logger: logger}
}

func (s *Service) Activate(ctx context.Context, req Request) (Result, error) {
	req.Login = strings.TrimSpace(req.Login)
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.HWID = strings.TrimSpace(req.HWID)
	req.PCName = strings.TrimSpace(req.PCName)
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	key := ids.Redact(req.LicenseKey, 8)
	ent, err := s.authority.Validate(ctx, req.LicenseKey, req.HWID)
	if err != nil {
		s.logger.Printf("activation denied license=%s login=%s err=%v", key, req.Login, err)
		return Result{}, err
	}

	b, err := s.store.Bind(ctx, binding.Binding{
		LicenseKey: req.LicenseKey,
		Device:     req.HWID,
		PCName:     req.PCName,
		Login:      req.Login,
	})
	if err != nil {
		s.logger.Printf("activation binding failed license=%s login=%s pc_name=%s err=%v", key, req.Login, req.PCName, err)
		return Result{}, err
	}

	s.logger.Printf("activation ok license=%s login=%s pc_name=%s plan=%s device=%s", key, b.Login, b.PCName, ent.Plan, ids.Redact(b.Device, 8))
	return Result{
		Token:   binding.Token(b.LicenseKey, b.Device),
		Plan:    ent.Plan,
		Binding: b,
		Rules:   s.rules().Map(),
	}, nil
}

func validateRequest(req Request) error {
	var missing []string
	if req.Login == "" {
		missing = append(missing, "login")
	}
	if req.LicenseKey == "" {
		missing = append(missing, "license_key")
	}
	if req.HWID == "" {
		missing = append(missing, "hwid")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if strings.Contains(req.LicenseKey, ":") {
		return fmt.Errorf("%w: license_key must not contain ':'", ErrInvalidRequest)
	}
	return nil
}
