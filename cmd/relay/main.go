// Command relay runs the mobile relay API: QR pairing, phone uploads, and
// the per-encounter image listing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ChartSnap/internal/config"
	"github.com/dharsanguruparan/ChartSnap/internal/database"
	"github.com/dharsanguruparan/ChartSnap/internal/logging"
	"github.com/dharsanguruparan/ChartSnap/internal/mobile"
	"github.com/dharsanguruparan/ChartSnap/internal/queue"
	"github.com/dharsanguruparan/ChartSnap/internal/repository"
	"github.com/dharsanguruparan/ChartSnap/internal/s3storage"
	"github.com/dharsanguruparan/ChartSnap/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "relay"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	store, err := s3storage.New(cfg.ObjectStore())
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	srv := mobile.New(mobile.Options{
		Address:        cfg.RelayAddress,
		PublicURL:      cfg.PublicRelayURL,
		APIToken:       cfg.ClinicalToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedTypes:   cfg.AllowedTypes,
		SessionTTL:     cfg.MobileTTL,
		PreviewTTL:     cfg.PreviewURLTTL,
	},
		signing.NewSigner(cfg.SigningSecret),
		repository.NewSessionRepository(pool),
		repository.NewImageRepository(pool),
		store,
		queue.NewClient(asynqClient),
		log,
	)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("relay stopped")
		os.Exit(1)
	}
}
