package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chunkmail/internal/config"
	"github.com/chunkmail/internal/mailer"
	"github.com/chunkmail/internal/provider"
	"github.com/chunkmail/internal/provider/sendgrid"
	"github.com/chunkmail/internal/provider/ses"
	"github.com/chunkmail/internal/provider/smtp"
	"github.com/chunkmail/internal/provider/stdout"
	"github.com/chunkmail/internal/store"
	"github.com/chunkmail/internal/upload"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config          *config.Config
	logger          *slog.Logger
	db              *store.DB
	emailStore      *store.EmailStore
	attachmentStore *store.AttachmentStore
	chunks          *upload.ChunkStore
	assembler       *upload.Assembler
	janitor         *upload.Janitor
	provider        provider.Provider
	pipeline        *mailer.Pipeline
}

func (app *App) Close() {
	app.db.Close()
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg)

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	chunks, err := upload.NewChunkStore(filepath.Join(cfg.Uploads.Dir, "chunks"), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	assembler, err := upload.NewAssembler(chunks, filepath.Join(cfg.Uploads.Dir, "artifacts"), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("assembler: %w", err)
	}

	p, err := selectProvider(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("delivery provider: %w", err)
	}

	emailStore := store.NewEmailStore(db)
	attachmentStore := store.NewAttachmentStore(db)

	app := &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		emailStore:      emailStore,
		attachmentStore: attachmentStore,
		chunks:          chunks,
		assembler:       assembler,
		janitor:         upload.NewJanitor(chunks, assembler, cfg.Uploads.TTL, cfg.Uploads.JanitorInterval, logger),
		provider:        p,
		pipeline:        mailer.New(emailStore, attachmentStore, p, logger, pipelineOptions(cfg)...),
	}

	if cfg.ReconcileOnStart {
		app.reconcile(ctx)
	}
	return app, nil
}

// reconcile fails records a previous process left pending, e.g. after a
// crash between record creation and delivery.
func (app *App) reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-app.config.PendingTimeout)
	n, err := app.emailStore.FailStalePending(ctx, cutoff)
	if err != nil {
		app.logger.Warn("reconcile pending emails failed", "err", err)
		return
	}
	if n > 0 {
		app.logger.Info("marked stale pending emails failed", "count", n, "cutoff", cutoff)
	}
}

func pipelineOptions(cfg *config.Config) []mailer.Option {
	var opts []mailer.Option
	if cfg.StripImageMetadata {
		opts = append(opts, mailer.WithImageMetadataStripping())
	}
	return opts
}

func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "stdout":
		return stdout.New(), nil
	case "smtp":
		return smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Pass,
		}), nil
	case "ses":
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
	case "sendgrid":
		return sendgrid.New(sendgrid.Config{
			APIKey:  cfg.SendGrid.APIKey,
			BaseURL: cfg.SendGrid.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func (app *App) Start(ctx context.Context) error {
	// Create an errgroup derived from the parent context
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", app.config.Port),
		Handler:           app.routes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		// Chunk and attachment bodies can be large; no ReadTimeout or
		// WriteTimeout so slow uploads and provider calls are not cut off.
		ErrorLog: slog.NewLogLogger(app.logger.Handler(), slog.LevelError),
	}

	g.Go(func() error {
		app.logger.Info("starting server",
			"addr", srv.Addr,
			"env", app.config.Env,
			"provider", app.provider.Name(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.janitor.Run(gctx)
	})

	// Start shutdown listener
	g.Go(func() error {
		<-gctx.Done() // Wait for OS signal or a sibling to fail

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	app.logger.Info("stopped server")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
