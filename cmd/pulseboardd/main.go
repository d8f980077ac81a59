package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/api"
	"github.com/pulseboard/pulseboard/internal/clock/system"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/hub"
	"github.com/pulseboard/pulseboard/internal/logging"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/notify"
	"github.com/pulseboard/pulseboard/internal/registry"
	"github.com/pulseboard/pulseboard/internal/snapshot"
	"github.com/pulseboard/pulseboard/internal/sweeper"
	"github.com/pulseboard/pulseboard/internal/version"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	printConfig := flag.Bool("print-config", false, "Print the resolved configuration and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *printConfig {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode config failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		logger.Fatal("snapshot store init failed", zap.Error(err))
	}
	defer closeStore()

	clk := system.New()
	reg := registry.New(clk)

	if recovered := snapshot.Recover(ctx, store, clk.Now(), logger.Named("recover")); len(recovered) > 0 {
		reg.Restore(recovered)
		metrics.SetTasks(reg.Len())
		logger.Info("tasks recovered from snapshot", zap.Int("tasks", len(recovered)))
	}

	writer := snapshot.NewWriter(snapshot.WriterConfig{
		Store:   store,
		Version: version.Version,
		Logger:  logger.Named("snapshot"),
	})

	broadcast := hub.New(hub.Config{
		WriteTimeout: cfg.Server.WSWriteTimeout(),
		Logger:       logger.Named("hub"),
	})

	archiver, err := buildArchiver(ctx, cfg.History)
	if err != nil {
		logger.Fatal("history archiver init failed", zap.Error(err))
	}

	notifier, err := buildNotifier(ctx, cfg.Notify)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}

	server, err := api.NewServer(api.Config{
		Tokens:         cfg.Server.APITokens,
		AllowedOrigins: cfg.Server.AllowOrigins,
		RequestTimeout: cfg.Server.RequestTimeout(),
	}, api.Deps{
		Registry:  reg,
		Hub:       broadcast,
		Snapshots: writer,
		Archiver:  archiver,
		Notifier:  notifier,
		Clock:     clk,
		Logger:    logger.Named("api"),
	})
	if err != nil {
		logger.Fatal("api server init failed", zap.Error(err))
	}

	sweep, err := sweeper.New(sweeper.Config{
		CleanupInterval:  cfg.Server.CleanupInterval(),
		RetentionSeconds: cfg.Server.RetentionSeconds,
		StaleSeconds:     cfg.Server.StaleSeconds,
		MaxTaskAge:       cfg.Server.MaxTaskAgeSeconds,
		Clock:            clk,
		Logger:           logger.Named("sweeper"),
	}, sweeper.Deps{
		Registry:  reg,
		Snapshots: writer,
		Broadcast: broadcast,
		Archiver:  archiver,
		Notifier:  notifier,
	})
	if err != nil {
		logger.Fatal("sweeper init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout(),
	}

	go sweep.Run(ctx)

	go func() {
		logger.Info("http server started",
			zap.String("addr", cfg.Server.Addr()),
			zap.String("version", version.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	broadcast.Close()

	// Final flush so a clean restart recovers the freshest state.
	writer.Enqueue(reg.Snapshot())
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Error("snapshot writer close error", zap.Error(err))
	}

	archiver.Close()
	if err := notifier.Close(); err != nil {
		logger.Error("notifier close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildSnapshotStore selects the snapshot backend. The returned func releases
// backend resources after the final flush.
func buildSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.SnapshotBackendFile:
		store, err := snapshot.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.SnapshotBackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := snapshot.NewGCSStore(client, snapshot.GCSConfig{
			Bucket: cfg.GCS.Bucket,
			Object: cfg.GCS.Object,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case config.SnapshotBackendNone:
		return snapshot.NopStore{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// buildArchiver selects the archive backend; empty means archiving is off.
func buildArchiver(ctx context.Context, cfg config.HistoryConfig) (history.Archiver, error) {
	switch cfg.Driver {
	case "":
		return history.NopArchiver{}, nil
	case config.HistoryDriverPostgres:
		return history.NewPostgresArchiver(ctx, history.PostgresConfig{
			DSN:   cfg.Postgres.DSN,
			Table: cfg.Postgres.Table,
		})
	case config.HistoryDriverSQLite:
		return history.NewSQLiteArchiver(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// buildNotifier selects the notification downstream; empty means none.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Provider {
	case "":
		return notify.NopNotifier{}, nil
	case config.NotifyProviderPubSub:
		return notify.NewPubSubNotifier(ctx, notify.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.TopicID,
		})
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}
