package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jinto-josan/web-apps-sub001/libs/config"
	"github.com/jinto-josan/web-apps-sub001/libs/consumer"
	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/libs/httpx"
	"github.com/jinto-josan/web-apps-sub001/libs/inbox"
	"github.com/jinto-josan/web-apps-sub001/libs/kafkax"
	otelx "github.com/jinto-josan/web-apps-sub001/libs/otel"
	"github.com/jinto-josan/web-apps-sub001/libs/outbox"
	"github.com/jinto-josan/web-apps-sub001/libs/runtime"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/handlers"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/profiles"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/projector"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/storage"
	subevents "github.com/jinto-josan/web-apps-sub001/services/subscription-service/events"
)

func main() {
	service := config.String("SERVICE_NAME", "profile-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool)
	proj := projector.New(repo, outbox.NewWriter(outboxRepo), domain.SystemClock(), logger)

	registry := eventbus.NewRegistry()
	subevents.RegisterTypes(registry)
	proj.Register(registry)

	brokers := config.String("KAFKA_BROKERS", "")
	relay := outbox.NewRelay(pool, outboxRepo, logger, outbox.RelayConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		Retention: config.Duration("OUTBOX_RETENTION", 168*time.Hour),
	})
	go relay.Run(ctx)

	ledger := inbox.NewRepository(pool, config.Duration("INBOX_RECLAIM_AFTER", 5*time.Minute))
	processor := consumer.NewProcessor(ledger, consumer.PgxUnitOfWork(pool), registry, logger, consumer.ProcessorConfig{
		HandlerTimeout: config.Duration("CONSUMER_HANDLER_TIMEOUT", 30*time.Second),
	})
	cons := consumer.New(logger, processor, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", service),
		Topics:  registry.Topics(),
	})
	go cons.Run(ctx)
	go sweepInbox(ctx, ledger, config.Duration("INBOX_RETENTION", 168*time.Hour), logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(profiles.New(repo, domain.SystemClock()), logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithCorrelation,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// sweepInbox purges DONE ledger rows past the retention window. The
// window has to outlive the transport's redelivery horizon or a late
// duplicate would be applied twice.
func sweepInbox(ctx context.Context, ledger *inbox.Repository, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.DeleteDoneBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("inbox sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("inbox sweep", "deleted", n)
			}
		}
	}
}
