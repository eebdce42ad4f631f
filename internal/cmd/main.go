package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"neurodigest/internal/app"
	"neurodigest/internal/config"
	"neurodigest/internal/fetcher"
	"neurodigest/internal/logger"
	"neurodigest/internal/model"
	"neurodigest/internal/notifier"
	"neurodigest/internal/registry"
	"neurodigest/internal/source"
	"neurodigest/internal/storage"
	"neurodigest/internal/web"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
)

func main() {
	cfg, err := config.Get()

	if err != nil {
		logger.New("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("neurodigest stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	feeds, err := registry.Resolve(cfg.FeedsFile, cfg.Feeds)

	if err != nil {
		return err
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)

	if err != nil {
		return err
	}

	articleStorage := storage.NewArticleStorage(db)

	sourceOpts := source.Options{
		Client:   &http.Client{},
		Timeout:  cfg.FetchTimeout,
		Attempts: cfg.FetchAttempts,
	}

	sources := lo.Map(feeds, func(feed model.Source, _ int) fetcher.Source {
		return source.NewRSSSourceFromModel(feed, sourceOpts)
	})

	feedFetcher := fetcher.New(articleStorage, sources, cfg.FetchInterval, log)

	opts := app.Options{
		Store:    articleStorage,
		Ingester: feedFetcher,
		Server: &http.Server{
			Handler:           web.NewRouter(articleStorage, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		Addr:   cfg.HTTPAddr,
		Closer: db,
		Log:    log,
	}

	if cfg.TelegramEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)

		if err != nil {
			db.Close()
			return err
		}

		opts.Notifier = notifier.New(
			articleStorage,
			botAPI,
			cfg.NotificationInterval,
			2*cfg.FetchInterval,
			cfg.TelegramChannelID,
			log,
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	service := app.New(opts)

	if err := service.Start(ctx); err != nil {
		db.Close()
		return err
	}

	log.Info("neurodigest started",
		"addr", cfg.HTTPAddr,
		"feeds", len(feeds),
		"fetch_interval", cfg.FetchInterval,
		"telegram", cfg.TelegramEnabled(),
	)

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-service.Failed():
		log.Error("neurodigest is stopping after a background failure", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}

	log.Info("neurodigest has stopped")

	return runErr
}
