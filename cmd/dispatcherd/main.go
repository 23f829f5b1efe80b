package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamhaven/hookrelay/internal/backoff"
	"github.com/streamhaven/hookrelay/internal/config"
	"github.com/streamhaven/hookrelay/internal/db"
	"github.com/streamhaven/hookrelay/internal/deadletter"
	"github.com/streamhaven/hookrelay/internal/dispatcher"
	"github.com/streamhaven/hookrelay/internal/executor"
	"github.com/streamhaven/hookrelay/internal/health"
	"github.com/streamhaven/hookrelay/internal/logging"
	"github.com/streamhaven/hookrelay/internal/metrics"
	"github.com/streamhaven/hookrelay/internal/store"
	"github.com/streamhaven/hookrelay/internal/tracing"
)

const backlogInterval = 15 * time.Second

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize structured logging
	logger := logging.New("hookrelay-dispatcherd")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "hookrelay-dispatcherd")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics. Readiness turns unhealthy if the loop stops
	// completing cycles, not just if the process hangs around.
	cycleTracker := health.NewTracker()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, cycleTracker, 3*cfg.Dispatcher.PollInterval))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Dispatcher.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("dispatcher HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dispatcher HTTP server failed")
		}
	}()

	st := store.NewPostgres(pool)

	// Optional NSQ dead letter publishing
	var deadLetters dispatcher.DeadLetterPublisher
	if cfg.NSQ.PublishDeadLetters {
		pub, err := deadletter.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeadLetterTopic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for dead letters creation failed")
		}
		defer pub.Stop()
		deadLetters = pub
		logger.Plain().WithField("topic", cfg.NSQ.DeadLetterTopic).Info("dead letter publishing enabled")
	}

	sender := executor.New(
		&http.Client{Timeout: cfg.Dispatcher.HTTPTimeout},
		executor.Config{
			SignatureHeader:  cfg.Webhook.SignatureHeader,
			TimestampHeader:  cfg.Webhook.TimestampHeader,
			EventTypeHeader:  cfg.Webhook.EventTypeHeader,
			DeliveryIDHeader: cfg.Webhook.DeliveryIDHeader,
			UserAgent:        cfg.Webhook.UserAgent,
			MaxResponseBytes: cfg.Webhook.MaxResponseBytes,
		},
	)

	sched := backoff.NewScheduler(backoff.Policy{
		Base:        cfg.Dispatcher.BackoffBase,
		Cap:         cfg.Dispatcher.BackoffCap,
		JitterMax:   cfg.Dispatcher.BackoffJitterMax,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
	}, nil)

	dp := dispatcher.New(st, sender, sched, dispatcher.Options{
		MaxBatch:    cfg.Dispatcher.MaxBatch,
		DeadLetters: deadLetters,
		Logger:      logger,
	})

	startBacklogMonitor(ctx, st, logger, backlogInterval)

	go func() {
		ticker := time.NewTicker(cfg.Dispatcher.PollInterval)
		defer ticker.Stop()
		for {
			n, err := dp.RunOnce(ctx, time.Now().UTC())
			cycleTracker.ObserveCycle(time.Now(), err)
			if err != nil && ctx.Err() == nil {
				logger.Plain().WithError(err).Error("dispatch cycle failed")
			} else if n > 0 {
				logger.Plain().WithField("processed", n).Debug("dispatch cycle complete")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"poll_interval": cfg.Dispatcher.PollInterval.String(),
		"max_batch":     cfg.Dispatcher.MaxBatch,
		"max_attempts":  cfg.Dispatcher.MaxAttempts,
	}).Info("dispatcher service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down dispatcher service")
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dispatcher service stopped")
}

// dueCounter is the slice of the store the backlog monitor needs.
type dueCounter interface {
	CountDue(ctx context.Context, now time.Time) (int, error)
}

// startBacklogMonitor periodically samples how many deliveries are due and
// exports it as a gauge, so operators can alert on a growing backlog.
func startBacklogMonitor(ctx context.Context, st dueCounter, logger *logging.Logger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			n, err := st.CountDue(ctx, time.Now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					logger.Plain().WithError(err).Warn("backlog count failed")
				}
				continue
			}
			metrics.UpdateDueBacklog(float64(n))
		}
	}()
}
