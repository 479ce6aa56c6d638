// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"appeals-workers/internal/alerts"
	"appeals-workers/internal/billing"
	awsclients "appeals-workers/internal/common/aws"
	"appeals-workers/internal/common/camunda"
	"appeals-workers/internal/common/config"
	"appeals-workers/internal/common/database"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/observability"
	"appeals-workers/internal/notify"
	"appeals-workers/internal/wallet"

	// Alert workers (4)
	aa "appeals-workers/internal/workers/alerts/acknowledge-alert"
	ca "appeals-workers/internal/workers/alerts/clear-alerts"
	ra "appeals-workers/internal/workers/alerts/refresh-alerts"
	scm "appeals-workers/internal/workers/alerts/send-checkin-message"

	// Wallet workers (3)
	cb "appeals-workers/internal/workers/wallet/check-balance"
	dbl "appeals-workers/internal/workers/wallet/deduct-balance"
	rba "appeals-workers/internal/workers/wallet/replay-billing-audit"

	// Billing workers (1)
	sbe "appeals-workers/internal/workers/billing/search-billing-entries"
)

// permanentError stops retryWithBackoff early.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return fmt.Errorf("%s failed: %w", operationName, permanent.err)
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("metrics exporter unavailable", zap.Error(err))
	}
	if err := obs.EnableTracing(cfg.App.Name, cfg.Tracing.JaegerEndpoint, cfg.Tracing.SampleRatio); err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
	}
	defer obs.Shutdown()
	camunda.UseRecorder(obs)

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: cfg.Camunda.Plaintext,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil && !camunda.IsTransient(err) {
			return &permanentError{err: err}
		}
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch (optional) ---
	var index *billing.Index
	if cfg.Database.Elasticsearch.Enabled() {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		index = billing.NewIndex(esClient.Client, cfg.Billing.Index, log)
		if err := index.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("failed to create billing index", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	} else {
		zapLog.Warn("Elasticsearch not configured, billing search and indexing disabled")
	}

	// --- Domain services ---
	engine := alerts.NewEngine(
		pg.DB,
		alerts.NewRedisSnapshotCache(redis.Client, config.Seconds(cfg.Alerts.SnapshotTTL)),
		alerts.PolicyFromConfig(cfg.Alerts),
		log,
	)

	var indexer wallet.EntryIndexer
	if index != nil {
		indexer = index
	}
	ledger := wallet.NewLedger(pg.DB, redis.Client, indexer, wallet.ConfigFrom(cfg.Wallet), log)

	messenger := notify.NewMessenger(engine, nil, nil, notify.ConfigFrom(cfg.Notifications), log)
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		awsCfg, err := awsclients.LoadConfig(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		var mailer notify.Mailer
		if cfg.Notifications.Email.Enabled {
			mailer = awsclients.NewSESClient(awsCfg, cfg.Notifications.Email.FromEmail)
		}
		var texter notify.Texter
		if cfg.Notifications.SMS.Enabled {
			texter = awsclients.NewSNSClient(awsCfg, cfg.Notifications.SMS.SenderID)
		}
		messenger = notify.NewMessenger(engine, mailer, texter, notify.ConfigFrom(cfg.Notifications), log)
		zapLog.Info("AWS notification clients initialized",
			zap.Bool("email", cfg.Notifications.Email.Enabled),
			zap.Bool("sms", cfg.Notifications.SMS.Enabled),
		)
	}

	// --- Register Workers ---
	client := zeebe.Zeebe()
	var workers []worker.JobWorker
	open := func(taskType string, handler worker.JobHandler) {
		if w := camunda.OpenWorker(client, taskType, config.GetWorkerConfig(cfg, taskType), handler, zapLog); w != nil {
			workers = append(workers, w)
		}
	}

	// --- 1. Alert Workers (4) ---
	open(ra.TaskType, ra.NewHandler(ra.LoadConfig(config.GetWorkerConfig(cfg, ra.TaskType)), engine, log).Handle)
	open(aa.TaskType, aa.NewHandler(aa.LoadConfig(config.GetWorkerConfig(cfg, aa.TaskType)), engine, log).Handle)
	open(ca.TaskType, ca.NewHandler(ca.LoadConfig(config.GetWorkerConfig(cfg, ca.TaskType)), engine, log).Handle)
	open(scm.TaskType, scm.NewHandler(scm.LoadConfig(config.GetWorkerConfig(cfg, scm.TaskType)), messenger, log).Handle)

	// --- 2. Wallet Workers (3) ---
	open(cb.TaskType, cb.NewHandler(cb.LoadConfig(config.GetWorkerConfig(cfg, cb.TaskType)), ledger, log).Handle)
	open(dbl.TaskType, dbl.NewHandler(dbl.LoadConfig(config.GetWorkerConfig(cfg, dbl.TaskType)), ledger, log).Handle)
	open(rba.TaskType, rba.NewHandler(rba.LoadConfig(config.GetWorkerConfig(cfg, rba.TaskType), cfg.Wallet), ledger, log).Handle)

	// --- 3. Billing Workers (1) ---
	if index != nil {
		open(sbe.TaskType, sbe.NewHandler(sbe.LoadConfig(config.GetWorkerConfig(cfg, sbe.TaskType)), index, log).Handle)
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", sbe.TaskType), zap.String("reason", "elasticsearch not configured"))
	}

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"status": "ready"}
		status := http.StatusOK
		for name, check := range map[string]func(context.Context) error{
			"postgres": pg.Ping,
			"redis":    redis.Ping,
			"zeebe":    zeebe.HealthCheck,
		} {
			if err := check(checkCtx); err != nil {
				checks[name] = err.Error()
				checks["status"] = "not_ready"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		writeStatus(w, status, checks)
	})
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Address,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping Health/Metrics server", zap.Error(err))
	}

	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped")
}

func writeStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
