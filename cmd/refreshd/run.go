package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/refreshd/pkg/cmd"
	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/log"
	"github.com/dukex/refreshd/pkg/otelhelper"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/dukex/refreshd/pkg/services"
	"github.com/dukex/refreshd/pkg/web"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort        = 9091
	shutdownTimeout    = 30 * time.Second
	defaultSweepPeriod = time.Minute
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API and the scheduler loop",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL: a directory, file://<dir> or postgres://...",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "scheduler-secret",
				Usage:   "Bearer token accepted by POST /refresh/scheduler",
				Sources: cli.EnvVars("SCHEDULER_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often the scheduler loop looks for due schedules",
				Value:   refresh.DefaultTickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Maximum refreshes running at once",
				Value:   refresh.DefaultMaxConcurrency,
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "execution-timeout",
				Usage:   "Deadline for a single refresh",
				Value:   refresh.DefaultExecutionTimeout,
				Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "connection-ttl",
				Usage:   "Idle time after which pooled data source connections are closed (0 keeps them)",
				Value:   connections.DefaultTTL,
				Sources: cli.EnvVars("CONNECTION_TTL"),
			},
			&cli.IntFlag{
				Name:    "max-rows",
				Usage:   "Rows kept from a saved query result",
				Value:   connections.DefaultMaxRows,
				Sources: cli.EnvVars("MAX_ROWS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared in-flight set and sessions",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "session",
				Usage:   "Static token=owner session, used when no Redis is configured",
				Sources: cli.EnvVars("SESSIONS"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "autostart",
				Usage:   "Start the scheduler loop at boot",
				Value:   true,
				Sources: cli.EnvVars("SCHEDULER_AUTOSTART"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, command *cli.Command) error {
	logger := log.Setup(command.String("log-level"), command.String("log-format")).With("module", "refreshd")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing refreshd")

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel") {
		var (
			shutdown otelhelper.ShutdownFunc
			err      error
		)

		tracer, shutdown, err = newTracer(ctx)
		if err != nil {
			return err
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	store, _, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	sessionStore, err := cmd.NewSessions(redisClient, command.StringSlice("session"))
	if err != nil {
		return err
	}

	executionTimeout := command.Duration("execution-timeout")
	staleAfter := executionTimeout + time.Minute
	clock := clockwork.NewRealClock()

	pool := connections.NewManager(logger, connections.Config{
		TTL:          command.Duration("connection-ttl"),
		ProbeTimeout: connections.DefaultProbeTimeout,
		MaxRows:      command.Int("max-rows"),
	})

	defer func() {
		if err := pool.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close connection pool", "error", err)
		}
	}()

	if command.Duration("connection-ttl") > 0 {
		go pool.Run(ctx, min(command.Duration("connection-ttl"), defaultSweepPeriod))
	}

	refresher := refresh.NewTargetRefresher(store.TargetRepository(), pool, clock, logger)
	recorder := refresh.NewRecorder(store, clock, logger,
		refresh.WithPublisher(eventBus),
		refresh.WithStaleAfter(staleAfter),
	)

	inFlight := cmd.NewInFlight(redisClient, staleAfter, logger)

	scheduler := refresh.NewScheduler(
		store.ScheduleRepository(),
		recorder,
		refresher,
		refresh.Config{
			TickInterval:     command.Duration("tick-interval"),
			MaxConcurrency:   command.Int("max-concurrency"),
			ExecutionTimeout: executionTimeout,
		},
		logger,
		refresh.WithInFlight(inFlight),
		refresh.WithClock(clock),
		refresh.WithTracer(tracer),
	)
	defer scheduler.Close()

	reconciled, err := cmd.ReconcileAtStartup(ctx, recorder, inFlight)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reconcile interrupted executions", "error", err)
	} else if reconciled > 0 {
		logger.InfoContext(ctx, "Closed interrupted executions", "count", reconciled)
	}

	listener := refresh.NewRealtimeListener(store.ScheduleRepository(), scheduler, logger)
	if err := listener.Register(eventBus); err != nil {
		return fmt.Errorf("failed to register realtime listener: %w", err)
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	if command.Bool("autostart") {
		scheduler.Start(ctx)
	}

	validate := services.NewValidator()

	handlers := web.NewAPIHandlers(
		services.NewSchedule(store, refresher, validate, clock),
		services.NewRefresh(store, refresher, recorder, scheduler, validate),
		services.NewDataSource(store.TargetRepository(), pool),
		scheduler,
		sessionStore,
		command.String("scheduler-secret"),
		logger,
	)

	if command.String("scheduler-secret") == "" {
		logger.WarnContext(ctx, "No scheduler secret configured, POST /refresh/scheduler is disabled")
	}

	api := NewAPI(logger, store, handlers)

	return api.Serve(ctx, command.Int("port"))
}

// nolint:ireturn
func newTracer(ctx context.Context) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	tracer, shutdown, err := otelhelper.NewTracer(ctx, "refreshd")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}
