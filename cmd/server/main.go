package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	fanoutmetrics "siraj/internal/fanout/metrics"
	"siraj/internal/gateway"
	"siraj/internal/gateway/mail"
	"siraj/internal/gateway/push"
	"siraj/internal/inspiration"
	inspirationmetrics "siraj/internal/inspiration/metrics"
	jwttoken "siraj/internal/jwt_token"
	"siraj/internal/lifecycle"
	"siraj/internal/notification"
	"siraj/internal/platform/config"
	"siraj/internal/platform/httpserver"
	"siraj/internal/platform/kafka/consumer"
	"siraj/internal/platform/logger"
	"siraj/internal/platform/metrics"
	"siraj/internal/platform/postgres"
	redisplatform "siraj/internal/platform/redis"
	"siraj/internal/platform/tracing"
	httptransport "siraj/internal/transport/http"
	kafkatransport "siraj/internal/transport/kafka"
	"siraj/pkg/platform/circuit"
)

const (
	jwtIssuer   = "siraj"
	jwtAudience = "siraj-api"
)

// main wires high-level dependencies, exposes the HTTP router and the optional
// Kafka consumer, and drains background notifications on shutdown. Business
// logic lives in internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, health, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	pushClient := push.New(push.Config{
		Endpoint: cfg.Push.Endpoint,
		AppID:    cfg.Push.AppID,
		APIKey:   cfg.Push.APIKey,
		Timeout:  cfg.Push.Timeout,
	},
		push.WithLogger(log),
		push.WithBreaker(circuit.New("push",
			circuit.WithFailureThreshold(cfg.Push.FailureThreshold),
			circuit.WithCooldown(cfg.Push.Cooldown),
		)),
	)
	mailClient := mail.New(mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Mail.Timeout,
		Security: mail.Security(cfg.Mail.Security),
	},
		mail.WithLogger(log),
		mail.WithBreaker(circuit.New("mail",
			circuit.WithFailureThreshold(cfg.Mail.FailureThreshold),
			circuit.WithCooldown(cfg.Mail.Cooldown),
		)),
	)
	if !pushClient.Enabled() {
		log.Warn("push credentials not configured, push channel disabled", "error", gateway.ErrNotConfigured)
	}
	if !mailClient.Enabled() {
		log.Warn("smtp credentials not configured, email channel disabled", "error", gateway.ErrNotConfigured)
	}

	recorder := notification.New(store, notification.WithLogger(log))
	dispatcher := fanout.New(recorder, pushClient, mailClient,
		fanout.WithLogger(log),
		fanout.WithMetrics(fanoutmetrics.New(reg)),
		fanout.WithEmailResolver(fanout.NewDocumentEmailResolver(store)),
		fanout.WithChannelTimeout(cfg.Fanout.ChannelTimeout),
	)

	merger := inspiration.NewMerger(store, dispatcher,
		inspiration.WithLogger(log),
		inspiration.WithMetrics(inspirationmetrics.New(reg)),
	)
	selector := inspiration.NewSelector(store, cfg.Inspiration.Location(),
		inspiration.WithSelectorLogger(log),
	)

	lifecycleOpts := []lifecycle.Option{lifecycle.WithLogger(log)}
	orders := lifecycle.NewOrders(store, dispatcher, lifecycleOpts...)
	enrollments := lifecycle.NewEnrollments(store, dispatcher, lifecycleOpts...)
	questions := lifecycle.NewQuestions(store, dispatcher, lifecycleOpts...)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, jwtIssuer, jwtAudience)
	validator := jwttoken.NewMiddlewareAdapter(jwtService)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Health:         health,
		RequestTimeout: 30 * time.Second,
	},
		httptransport.NewLifecycleHandler(orders, enrollments, questions, validator, log),
		httptransport.NewDailyHandler(merger, selector, validator, log),
		httptransport.NewNotificationHandler(recorder, validator, log),
	)
	srv := httpserver.New(cfg.Server.Addr, otelhttp.NewHandler(router, "siraj"))

	var kafkaConsumer *consumer.Consumer
	consumerDone := make(chan error, 1)
	if cfg.KafkaEnabled() {
		kafkaConsumer, err = startConsumer(ctx, cfg.Kafka, dispatcher, log, consumerDone)
		if err != nil {
			return err
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting siraj", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "kafka", cfg.KafkaEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	if kafkaConsumer != nil {
		kafkaConsumer.Close()
		if err := <-consumerDone; err != nil {
			log.Error("kafka consumer stopped with error", "error", err)
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Fanout.DrainTimeout)
	defer cancelDrain()
	if err := dispatcher.Drain(drainCtx); err != nil {
		log.Warn("background notifications still running at exit", "error", err)
	}
	log.Info("shutdown complete")
	return nil
}

// buildStore opens the configured backend and returns its health checks and
// a close function.
func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger) (docstore.Store, map[string]httptransport.HealthCheck, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := redisplatform.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("connect redis: %w", err)
		}
		health := map[string]httptransport.HealthCheck{"redis": client.Health}
		return docstore.NewRedis(client.Client), health, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		store := docstore.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, fmt.Errorf("migrate postgres: %w", err)
		}
		health := map[string]httptransport.HealthCheck{"postgres": pingDB(db)}
		return store, health, func() { _ = db.Close() }, nil

	case config.BackendSQLite:
		store, err := docstore.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		health := map[string]httptransport.HealthCheck{"sqlite": store.Ping}
		return store, health, func() { _ = store.Close() }, nil

	default:
		log.Warn("using in-memory document store, data is lost on restart")
		return docstore.NewMemory(), nil, noop, nil
	}
}

func pingDB(db *sqlx.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func startConsumer(ctx context.Context, cfg config.KafkaConfig, dispatcher *fanout.Dispatcher, log *slog.Logger, done chan<- error) (*consumer.Consumer, error) {
	router := kafkatransport.NewRouter(log, nil)
	router.Register(cfg.Topic, kafkatransport.NewStateChangeHandler(dispatcher, log))

	c, err := consumer.New(consumer.Config{
		Brokers:   cfg.Brokers,
		GroupID:   cfg.GroupID,
		Topics:    router.Topics(),
		FromStart: cfg.StartOffset == config.OffsetStart,
	}, router, consumer.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := consumer.EnsureTopic(setupCtx, c.Client(), cfg.Topic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
		c.Close()
		return nil, err
	}

	go func() {
		done <- c.Run(ctx)
	}()
	return c, nil
}
