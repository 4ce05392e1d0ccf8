package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"offerflow/auth"
	"offerflow/config"
	"offerflow/db"
	"offerflow/document"
	"offerflow/logger"
	"offerflow/metrics"
	"offerflow/notify"
	"offerflow/offer"
	"offerflow/property"
	"offerflow/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zapLogger.Sync()
	cfg.LogConfig(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
	zapLogger.Info("server gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	docSecret := []byte(cfg.Documents.Secret)
	documents, err := document.Open(cfg.Documents.Path, docSecret, cfg.Documents.PublicBaseURL)
	if err != nil {
		return err
	}
	defer documents.Close()
	signer := document.NewSigner(docSecret, cfg.Documents.PublicBaseURL)

	collector := metrics.NewCollector()

	properties := property.NewService(property.NewRepository(pool), property.Contact{
		Name:  cfg.Notify.DefaultOwnerName,
		Email: cfg.Notify.DefaultOwnerEmail,
	})

	offers := offer.NewService(
		offer.NewPGStore(pool),
		properties,
		documents,
		signer,
		verification.NewClient(cfg.OCR.URL, cfg.OCR.APIKey, verification.DefaultClientTimeout),
		offer.Config{
			OCRTimeout:      cfg.OCR.Timeout,
			MinConfidence:   cfg.OCR.MinConfidence,
			DocumentLinkTTL: cfg.Documents.LinkTTL,
			Operator: notify.Recipient{
				Audience:       notify.AudienceOperator,
				Name:           cfg.Notify.OperatorName,
				Email:          cfg.Notify.OperatorEmail,
				TelegramChatID: cfg.Notify.OperatorTelegramChatID,
			},
		},
		zapLogger,
	).WithMetrics(collector)

	dispatcher, err := newDispatcher(cfg, zapLogger, collector)
	if err != nil {
		return err
	}
	relay := notify.NewRelay(
		notify.NewPGOutbox(pool, cfg.Outbox.MaxAttempts, cfg.Outbox.RetryDelay),
		dispatcher,
		zapLogger,
		notify.RelayConfig{Interval: cfg.Outbox.Interval, BatchSize: cfg.Outbox.BatchSize, Workers: cfg.Outbox.Workers},
	)

	server := &Server{
		offers:    offers,
		tokens:    auth.NewService(cfg.Auth.JWTSecret),
		documents: documents,
		links:     signer,
		metrics:   collector,
		logger:    zapLogger.With(zap.String("service", "http")),
		ping:      pool.Ping,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error { return offers.RunExpirySweeper(ctx, cfg.Expiry.SweepInterval) })
	g.Go(func() error {
		zapLogger.Info("server started", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zapLogger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newDispatcher enables each channel that has credentials. Messages no channel
// can take are written to the log.
func newDispatcher(cfg *config.Config, zapLogger *zap.Logger, collector *metrics.Collector) (*notify.Dispatcher, error) {
	var senders []notify.Sender
	if cfg.Notify.SMTPHost != "" {
		senders = append(senders, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.SMTPFrom,
		}))
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	return notify.NewDispatcher(zapLogger, collector, senders...).WithFallback(notify.NewLogSender(zapLogger)), nil
}
