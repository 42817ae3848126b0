package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/tuning"
)

const (
	EnvConfigFile          = "REEL_GATEWAY_CONFIG_FILE"
	EnvHTTPAddr            = "REEL_GATEWAY_HTTP_ADDR"
	EnvAdminSocketPath     = "REEL_GATEWAY_ADMIN_SOCKET_PATH"
	EnvDBDriver            = "REEL_GATEWAY_DB_DRIVER"
	EnvDBDSN               = "REEL_GATEWAY_DB_DSN"
	EnvLicenseURL          = "REEL_GATEWAY_LICENSE_URL"
	EnvLicenseProjectID    = "REEL_GATEWAY_LICENSE_PROJECT_ID"
	EnvLicenseTimeout      = "REEL_GATEWAY_LICENSE_TIMEOUT"
	EnvWSIdleTimeout       = "REEL_GATEWAY_WS_IDLE_TIMEOUT"
	EnvWSMaxMessageBytes   = "REEL_GATEWAY_WS_MAX_MESSAGE_BYTES"
	EnvWSAuthTimeout       = "REEL_GATEWAY_WS_AUTH_TIMEOUT"
	EnvEventRatePerSecond  = "REEL_GATEWAY_EVENT_RATE_PER_SECOND"
	EnvEventBurst          = "REEL_GATEWAY_EVENT_BURST"
	EnvWebhookURLs         = "REEL_GATEWAY_WEBHOOK_URLS"
	EnvWebhookOperatorOnly = "REEL_GATEWAY_WEBHOOK_OPERATOR_ONLY"
	EnvDiscordBotToken     = "REEL_GATEWAY_DISCORD_BOT_TOKEN"
	EnvDiscordChannelID    = "REEL_GATEWAY_DISCORD_CHANNEL_ID"
)

const (
	DefaultHTTPAddr           = ":8080"
	DefaultAdminSocketPath    = ".reel/run/gateway-admin.sock"
	DefaultDBDriver           = "sqlite"
	DefaultDBDSN              = "reel-gateway.db"
	DefaultLicenseTimeout     = 10 * time.Second
	DefaultWSIdleTimeout      = 5 * time.Minute
	DefaultWSMaxMessageBytes  = 64 << 10
	DefaultWSAuthTimeout      = 30 * time.Second
	DefaultEventRatePerSecond = 20
	DefaultEventBurst         = 40
)

type Config struct {
	HTTPAddr            string
	AdminSocketPath     string
	DBDriver            string
	DBDSN               string
	LicenseURL          string
	LicenseProjectID    string
	LicenseTimeout      time.Duration
	WSIdleTimeout       time.Duration
	WSMaxMessageBytes   int64
	WSAuthTimeout       time.Duration
	EventRatePerSecond  float64
	EventBurst          int
	WebhookURLs         []string
	WebhookOperatorOnly bool
	DiscordBotToken     string
	DiscordChannelID    string
	ResourcePairs       []rotation.Pair
	Policy              tuning.Policy
}

func Default() Config {
	return Config{
		HTTPAddr:           DefaultHTTPAddr,
		AdminSocketPath:    DefaultAdminSocketPath,
		DBDriver:           DefaultDBDriver,
		DBDSN:              DefaultDBDSN,
		LicenseTimeout:     DefaultLicenseTimeout,
		WSIdleTimeout:      DefaultWSIdleTimeout,
		WSMaxMessageBytes:  DefaultWSMaxMessageBytes,
		WSAuthTimeout:      DefaultWSAuthTimeout,
		EventRatePerSecond: DefaultEventRatePerSecond,
		EventBurst:         DefaultEventBurst,
		ResourcePairs:      rotation.DefaultPairs(),
		Policy:             tuning.Defaults(),
	}
}

// Load resolves configuration from defaults, the YAML file named by
// --config or REEL_GATEWAY_CONFIG_FILE, the environment and finally
// command-line flags. The policy block is sanitized with the same bounds
// applied to client-supplied tuning.
func Load(args []string, logger *log.Logger) (Config, error) {
	flagSet := pflag.NewFlagSet("reel-gateway", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to YAML config file (default: $"+EnvConfigFile+")")
	httpAddr := flagSet.String("http-addr", "", "public listen address (overrides config)")
	adminSocket := flagSet.String("admin-socket", "", "admin unix socket path (overrides config)")
	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := Default()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = EnvString(EnvConfigFile)
	}
	if path != "" {
		fileCfg, err := loadFileConfig(path)
		if err != nil {
			return Config{}, err
		}
		if err := applyYAML(&cfg, fileCfg, tuning.NewValidator(logger)); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if value := strings.TrimSpace(*httpAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(*adminSocket); value != "" {
		cfg.AdminSocketPath = value
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.AdminSocketPath = EnvOrDefault(EnvAdminSocketPath, cfg.AdminSocketPath)
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.LicenseURL = EnvOrDefault(EnvLicenseURL, cfg.LicenseURL)
	cfg.LicenseProjectID = EnvOrDefault(EnvLicenseProjectID, cfg.LicenseProjectID)
	cfg.DiscordBotToken = EnvOrDefault(EnvDiscordBotToken, cfg.DiscordBotToken)
	cfg.DiscordChannelID = EnvOrDefault(EnvDiscordChannelID, cfg.DiscordChannelID)

	var err error
	if cfg.LicenseTimeout, err = parseOptionalDuration(EnvString(EnvLicenseTimeout), cfg.LicenseTimeout, EnvLicenseTimeout); err != nil {
		return err
	}
	if cfg.WSIdleTimeout, err = parseOptionalDuration(EnvString(EnvWSIdleTimeout), cfg.WSIdleTimeout, EnvWSIdleTimeout); err != nil {
		return err
	}
	if cfg.WSAuthTimeout, err = parseOptionalDuration(EnvString(EnvWSAuthTimeout), cfg.WSAuthTimeout, EnvWSAuthTimeout); err != nil {
		return err
	}

	if raw := EnvString(EnvWSMaxMessageBytes); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWSMaxMessageBytes, raw, err)
		}
		cfg.WSMaxMessageBytes = n
	}
	if raw := EnvString(EnvEventRatePerSecond); raw != "" {
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEventRatePerSecond, raw, err)
		}
		cfg.EventRatePerSecond = n
	}
	if raw := EnvString(EnvEventBurst); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEventBurst, raw, err)
		}
		cfg.EventBurst = n
	}
	if raw := EnvString(EnvWebhookURLs); raw != "" {
		cfg.WebhookURLs = splitList(raw)
	}
	cfg.WebhookOperatorOnly = parseBoolEnv(EnvWebhookOperatorOnly, cfg.WebhookOperatorOnly)
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	if strings.TrimSpace(c.AdminSocketPath) == "" {
		return fmt.Errorf("%s must not be empty", EnvAdminSocketPath)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%s must be sqlite or postgres", EnvDBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBDSN)
	}
	if c.LicenseTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvLicenseTimeout)
	}
	if c.WSIdleTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvWSIdleTimeout)
	}
	if c.WSAuthTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvWSAuthTimeout)
	}
	if c.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be > 0", EnvWSMaxMessageBytes)
	}
	if c.EventRatePerSecond <= 0 {
		return fmt.Errorf("%s must be > 0", EnvEventRatePerSecond)
	}
	if c.EventBurst < 1 {
		return fmt.Errorf("%s must be >= 1", EnvEventBurst)
	}
	if (c.DiscordBotToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("%s and %s must be provided together", EnvDiscordBotToken, EnvDiscordChannelID)
	}
	if err := rotation.ValidatePairs(c.ResourcePairs); err != nil {
		return fmt.Errorf("resource_pairs: %w", err)
	}
	return nil
}

// DiscordEnabled reports whether operator notifications go to Discord.
func (c Config) DiscordEnabled() bool {
	return c.DiscordBotToken != "" && c.DiscordChannelID != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
