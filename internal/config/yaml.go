package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/tuning"
)

type fileConfig struct {
	HTTPAddr            string         `yaml:"http_addr"`
	AdminSocketPath     string         `yaml:"admin_socket_path"`
	DBDriver            string         `yaml:"db_driver"`
	DBDSN               string         `yaml:"db_dsn"`
	LicenseURL          string         `yaml:"license_url"`
	LicenseProjectID    string         `yaml:"license_project_id"`
	LicenseTimeout      string         `yaml:"license_timeout"`
	WSIdleTimeout       string         `yaml:"ws_idle_timeout"`
	WSMaxMessageBytes   *int64         `yaml:"ws_max_message_bytes"`
	WSAuthTimeout       string         `yaml:"ws_auth_timeout"`
	EventRatePerSecond  *float64       `yaml:"event_rate_per_second"`
	EventBurst          *int           `yaml:"event_burst"`
	WebhookURLs         []string       `yaml:"webhook_urls"`
	WebhookOperatorOnly *bool          `yaml:"webhook_operator_only"`
	DiscordBotToken     string         `yaml:"discord_bot_token"`
	DiscordChannelID    string         `yaml:"discord_channel_id"`
	ResourcePairs       [][]int        `yaml:"resource_pairs"`
	Policy              map[string]any `yaml:"policy"`
}

func loadFileConfig(path string) (fileConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config file %s: %w", path, err)
	}
	if info.IsDir() {
		return fileConfig{}, fmt.Errorf("config file %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyYAML(cfg *Config, source fileConfig, validator *tuning.Validator) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.AdminSocketPath); value != "" {
		cfg.AdminSocketPath = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if value := strings.TrimSpace(source.LicenseURL); value != "" {
		cfg.LicenseURL = value
	}
	if value := strings.TrimSpace(source.LicenseProjectID); value != "" {
		cfg.LicenseProjectID = value
	}
	if value := strings.TrimSpace(source.DiscordBotToken); value != "" {
		cfg.DiscordBotToken = value
	}
	if value := strings.TrimSpace(source.DiscordChannelID); value != "" {
		cfg.DiscordChannelID = value
	}

	var err error
	if cfg.LicenseTimeout, err = parseOptionalDuration(source.LicenseTimeout, cfg.LicenseTimeout, "license_timeout"); err != nil {
		return err
	}
	if cfg.WSIdleTimeout, err = parseOptionalDuration(source.WSIdleTimeout, cfg.WSIdleTimeout, "ws_idle_timeout"); err != nil {
		return err
	}
	if cfg.WSAuthTimeout, err = parseOptionalDuration(source.WSAuthTimeout, cfg.WSAuthTimeout, "ws_auth_timeout"); err != nil {
		return err
	}

	if source.WSMaxMessageBytes != nil {
		cfg.WSMaxMessageBytes = *source.WSMaxMessageBytes
	}
	if source.EventRatePerSecond != nil {
		cfg.EventRatePerSecond = *source.EventRatePerSecond
	}
	if source.EventBurst != nil {
		cfg.EventBurst = *source.EventBurst
	}
	if len(source.WebhookURLs) > 0 {
		cfg.WebhookURLs = splitList(strings.Join(source.WebhookURLs, ","))
	}
	if source.WebhookOperatorOnly != nil {
		cfg.WebhookOperatorOnly = *source.WebhookOperatorOnly
	}

	if len(source.ResourcePairs) > 0 {
		pairs := make([]rotation.Pair, 0, len(source.ResourcePairs))
		for i, members := range source.ResourcePairs {
			if len(members) != 2 {
				return fmt.Errorf("resource_pairs[%d] must have exactly 2 members, got %d", i, len(members))
			}
			pairs = append(pairs, rotation.Pair{rotation.ResourceID(members[0]), rotation.ResourceID(members[1])})
		}
		cfg.ResourcePairs = pairs
	}

	if len(source.Policy) > 0 {
		cfg.Policy = validator.Sanitize(cfg.Policy, source.Policy)
	}
	return nil
}
