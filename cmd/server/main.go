// Command server runs the widget backend: per-encounter workspaces for
// capture, tagging, commit and mobile handoff.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/config"
	"github.com/dharsanguruparan/ChartSnap/internal/handoff"
	"github.com/dharsanguruparan/ChartSnap/internal/logging"
	"github.com/dharsanguruparan/ChartSnap/internal/relay"
	"github.com/dharsanguruparan/ChartSnap/internal/widget"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "widget"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := clinical.Open(clinical.HTTPOptions{
		BaseURL:  cfg.ClinicalBaseURL,
		RelayURL: cfg.ClinicalRelayURL,
		Token:    cfg.ClinicalToken,
		Timeout:  cfg.ClinicalTimeout,
	}, cfg.CapabilitiesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("init clinical client")
	}
	if cfg.UseFakeClinical() {
		log.Warn().Msg("no clinical base url configured, using the in-memory clinical system")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	// Pong cadence stays well under the timeout so one lost ping is tolerated.
	subscriber := relay.NewRedis(rdb, cfg.HeartbeatTimeout/3, log)

	hopts := handoff.DefaultOptions()
	hopts.HeartbeatTimeout = cfg.HeartbeatTimeout
	hopts.MaxReconnects = uint64(cfg.MaxReconnects)
	hopts.InitialBackoff = cfg.BackoffInitial
	hopts.MaxBackoff = cfg.BackoffMax

	manager := widget.NewManager(widget.Deps{
		Client:     client,
		Subscriber: subscriber,
		Compress:   cfg.Compression,
		Handoff:    hopts,

		CommitTimeout: cfg.ClinicalTimeout,
		Log:           log,
	})
	srv := widget.New(widget.Options{
		Address:        cfg.WidgetAddress,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, manager, log)

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("widget stopped")
		os.Exit(1)
	}
}
