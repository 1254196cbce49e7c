package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/api"
	"github.com/raushankrgupta/photo-restorer/config"
	"github.com/raushankrgupta/photo-restorer/session"
	"github.com/raushankrgupta/photo-restorer/utils"
	"github.com/raushankrgupta/photo-restorer/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the photo restoration web UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.LogLevel, cfg.LogDev); err != nil {
			return err
		}
		defer func() { _ = utils.Logger.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config) error {
	logger := utils.Logger

	if config.APIKey() == "" {
		logger.Warn("API_KEY is not set; restorations will fail until it is exported")
	}

	archiver, closeArchive, err := newArchiver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()

	opts := session.Options{
		TickInterval: cfg.TickInterval,
		Logger:       logger,
		OnResolve: func(r session.Resolution) {
			utils.RecordResolution(r)
			archiver.HandleResolution(r)
		},
	}
	sessions := session.NewManager(restorerFactory(cfg), opts, cfg.SessionTTL)
	sessions.OnCountChange = func(n int) { utils.ActiveSessions.Set(float64(n)) }
	sessions.StartSweeper(ctx, sweepInterval(cfg.SessionTTL))
	defer sessions.CloseAll()

	handler := api.NewHandler(sessions, []byte(cfg.SessionSecret), cfg.SessionTTL, cfg.MaxUploadBytes())
	handler.Static = web.Handler()

	// No WriteTimeout: the websocket stays open for the life of the page.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr), zap.String("model", cfg.GeminiModel))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped successfully")
	return nil
}

// newArchiver connects the configured archive sinks. The returned archiver
// is a no-op when none are configured.
func newArchiver(ctx context.Context, cfg *config.Config) (*utils.Archiver, func(), error) {
	archiver := &utils.Archiver{}
	closeFn := func() {}

	if cfg.MongoURI != "" {
		client, err := utils.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		archiver.Ledger = utils.NewMongoLedger(client, cfg.MongoDatabase)
		closeFn = func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				utils.Logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}
	}

	if cfg.AWSBucketName != "" {
		store, err := utils.NewS3Archive(ctx, cfg.AWSRegion, cfg.AWSBucketName)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		archiver.Uploader = store
	}

	if cfg.ArchiveEnabled() {
		utils.Logger.Info("Attempt archive enabled",
			zap.Bool("mongo", archiver.Ledger != nil),
			zap.Bool("s3", archiver.Uploader != nil))
	}
	return archiver, closeFn, nil
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		return time.Second
	}
	if interval > 5*time.Minute {
		return 5 * time.Minute
	}
	return interval
}
