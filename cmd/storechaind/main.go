package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storechain/cmd/internal/passphrase"
	"storechain/config"
	"storechain/core"
	"storechain/core/events"
	"storechain/crypto"
	"storechain/integrations/indexer"
	"storechain/integrations/webhooks"
	"storechain/observability"
	"storechain/observability/logging"
	telemetry "storechain/observability/otel"
	"storechain/rpc"
	"storechain/storage"
)

const (
	operatorPassEnv = "STORECHAIN_OPERATOR_PASS"
	streamBuffer    = 256
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	bootLogger := logging.Setup("storechaind", strings.TrimSpace(os.Getenv("STORECHAIN_ENV")))
	passSource := passphrase.NewSource(operatorPassEnv, passphrase.WithLabel("platform operator"))
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		bootLogger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "storechaind",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("storechaind stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	platform, err := cfg.ParsePlatform()
	if err != nil {
		return err
	}
	spec, err := cfg.GenesisSpec()
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster(streamBuffer)
	broadcaster.SetDropHook(observability.Events().RecordDrop)
	sinks := events.Fanout{broadcaster}

	var index *indexer.Indexer
	if cfg.Indexer.Enabled {
		db, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		index, err = indexer.New(db, logger.With(slog.String("component", "indexer")))
		if err != nil {
			return err
		}
		defer index.Close()
		sinks = append(sinks, index)
	}

	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.WebhookSecret()),
			webhooks.WithTopics(cfg.Webhook.Topics),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithLogger(logger.With(slog.String("component", "webhooks"))),
		)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	node, err := core.NewNode(db, core.Options{
		Factory:       platform.Factory,
		PlatformOwner: platform.Owner,
		PlatformRate:  platform.Rate,
		OpenCreation:  platform.OpenCreation,
		Genesis:       spec,
		Emitter:       sinks,
		Logger:        logger,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:   "storechaind",
			Environment:   cfg.Environment,
			Endpoint:      cfg.Telemetry.Endpoint,
			Insecure:      cfg.Telemetry.Insecure,
			Headers:       telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Traces:        cfg.Telemetry.Traces,
			Metrics:       cfg.Telemetry.Metrics,
			SampleRatio:   cfg.Telemetry.SampleRatio,
			Factory:       crypto.HexAddress(node.FactoryAddress()),
			PlatformOwner: crypto.HexAddress(platform.Owner),
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	server := rpc.NewServer(node, rpc.Config{
		ListenAddress: cfg.ListenAddress,
		ReadTimeout:   time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:  time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxConns:      cfg.MaxConnections,
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.HMACSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RateLimit: rpc.RateLimit{
			RatePerSecond:     cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		},
	}, logger)
	server.SetStream(broadcaster)
	if index != nil {
		server.SetIndex(index)
	}
	if cfg.HMACSecret() == "" {
		logger.Warn("no auth secret configured; POST /v1/call will reject every request")
	}
	return server.Serve(ctx)
}
