package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"reelstack.local/reel-gateway/internal/activation"
	"reelstack.local/reel-gateway/internal/batch"
	"reelstack.local/reel-gateway/internal/binding"
	"reelstack.local/reel-gateway/internal/config"
	"reelstack.local/reel-gateway/internal/dispatch"
	"reelstack.local/reel-gateway/internal/events"
	"reelstack.local/reel-gateway/internal/httpapi"
	"reelstack.local/reel-gateway/internal/license"
	"reelstack.local/reel-gateway/internal/session"
	"reelstack.local/reel-gateway/internal/subscribers"
	"reelstack.local/reel-gateway/internal/subscribers/discord"
	logging "reelstack.local/reel-gateway/internal/subscribers/logging"
	"reelstack.local/reel-gateway/internal/subscribers/webhook"
	"reelstack.local/reel-gateway/internal/tuning"
)

func main() {
	logger := log.New(os.Stdout, "reel-gateway ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
	cfg, err := config.Load(os.Args[1:], logger)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	subs := []subscribers.Subscriber{logging.New(logger)}
	var webhookOpts []webhook.Option
	if cfg.WebhookOperatorOnly {
		webhookOpts = append(webhookOpts, webhook.WithEventFilter(events.Type.Operator))
	}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger, webhookOpts...))
	}
	if cfg.DiscordEnabled() {
		sender, err := discord.NewBotSender(cfg.DiscordBotToken)
		if err != nil {
			logger.Fatalf("failed to initialize discord sender: %v", err)
		}
		subs = append(subs, discord.New(sender, cfg.DiscordChannelID))
	}
	dispatcher := dispatch.New(logger, subs)

	store, err := binding.NewGormStore(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		logger.Fatalf("failed to initialize binding store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	if strings.TrimSpace(cfg.LicenseURL) == "" {
		logger.Printf("license_url is not set; activations will fail as unavailable")
	}
	authority := license.NewClient(cfg.LicenseURL, cfg.LicenseProjectID, cfg.LicenseTimeout, logger)
	policy := cfg.Policy
	rules := func() tuning.Policy { return policy }

	deps := httpapi.Deps{
		Activation:    activation.NewService(authority, store, rules, logger),
		Authenticator: binding.NewAuthenticator(store),
		Bindings:      store,
		Registry:      session.NewRegistry(),
		Composer:      batch.NewComposer(logger),
		Dispatcher:    dispatcher,
		Policy:        rules,
		Pairs:         cfg.ResourcePairs,
		Limits: httpapi.Limits{
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			IdleTimeout:     cfg.WSIdleTimeout,
			AuthTimeout:     cfg.WSAuthTimeout,
			RatePerSecond:   cfg.EventRatePerSecond,
			Burst:           cfg.EventBurst,
		},
	}
	publicSrv := httpapi.NewServer(logger, cfg.HTTPAddr, deps, false)
	adminSrv := httpapi.NewServer(logger, "unix://"+cfg.AdminSocketPath, deps, true)

	if err := os.MkdirAll(filepath.Dir(cfg.AdminSocketPath), 0o700); err != nil {
		logger.Fatalf("failed to create admin socket dir: %v", err)
	}
	if err := os.Remove(cfg.AdminSocketPath); err != nil && !os.IsNotExist(err) {
		logger.Fatalf("failed to remove stale admin socket: %v", err)
	}
	adminListener, err := net.Listen("unix", cfg.AdminSocketPath)
	if err != nil {
		logger.Fatalf("failed to listen on admin socket: %v", err)
	}
	defer func() {
		_ = adminListener.Close()
		if err := os.Remove(cfg.AdminSocketPath); err != nil && !os.IsNotExist(err) {
			logger.Printf("admin socket cleanup error: %v", err)
		}
	}()
	if err := os.Chmod(cfg.AdminSocketPath, 0o600); err != nil {
		logger.Printf("admin socket chmod warning: %v", err)
	}

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := publicSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()
	go func() {
		logger.Printf("admin socket listening on %s", cfg.AdminSocketPath)
		if err := adminSrv.Serve(adminListener); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("admin server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	closed := deps.Registry.CloseAll()
	logger.Printf("shutting down sessions=%d", closed)
	if err := publicSrv.Shutdown(ctx); err != nil {
		logger.Printf("public server shutdown error: %v", err)
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		logger.Printf("admin server shutdown error: %v", err)
	}
	if err := dispatcher.Wait(ctx); err != nil {
		logger.Printf("event delivery drain error: %v", err)
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
