// internal/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	router "finthos-payments/internal/api"
	"finthos-payments/internal/api/handler"
	"finthos-payments/internal/config"
	"finthos-payments/internal/ledger"
	"finthos-payments/internal/outbox"
	"finthos-payments/internal/payment"
	"finthos-payments/internal/queue"
	"finthos-payments/internal/reconcile"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/repository/memory"
	"finthos-payments/internal/repository/postgres"
	"finthos-payments/internal/settlement"
	"finthos-payments/internal/util"
	"finthos-payments/pkg/db"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *slog.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Store      repository.UnitOfWork
	Queue      queue.Queue
	Publisher  outbox.Publisher
	Ledger     *ledger.Engine
	Payments   payment.Orchestrator
	Worker     *payment.Worker
	Reconciler *reconcile.Engine
	Relay      *outbox.Relay
	Scheduler  *reconcile.Scheduler

	// HTTP API
	HTTPHandler http.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration from the environment and builds every component.
func (app *Application) Initialize(ctx context.Context) error {
	cfg, err := config.LoadConfig(slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	util.InitLogger(cfg.Log.Level)
	return app.Build(ctx, cfg, util.GetLogger())
}

// Build wires the application from cfg. The memory driver and empty Redis/Kafka settings give a
// self-contained single-process instance.
func (app *Application) Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	app.Config = cfg
	app.Logger = logger

	// 1. Store
	switch cfg.DB.Driver {
	case "memory":
		app.Store = memory.NewStore()
		app.Logger.Warn("using in-memory store, data is lost on restart")
	default:
		database, err := db.NewPostgresDB(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = database
		if cfg.DB.MigrateOnStart {
			if err := db.Migrate(database); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		app.Store = postgres.NewStore(database)
		app.Logger.Info("Database connection established.")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		app.Redis = redis.NewClient(opts)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	// 2. Ledger and settlement
	audit := ledger.NewAuditTrail("payments-service")
	app.Ledger = ledger.NewEngine(app.Store, audit, app.Logger)

	breaker := settlement.BreakerConfig{
		ConsecutiveFailures: cfg.Worker.BreakerFailures,
		OpenTimeout:         cfg.Worker.BreakerOpenFor,
	}
	adapters := settlement.NewRouter(
		settlement.WithBreaker(settlement.NewFiatAdapter(), breaker, app.Logger),
		settlement.WithBreaker(settlement.NewCryptoAdapter(), breaker, app.Logger),
		cfg.Payments.CryptoCurrencies,
	)

	// 3. Worker and queue
	app.Worker = payment.NewWorker(app.Store, app.Ledger, audit, adapters, payment.WorkerSettings{
		AttemptTimeout: cfg.Worker.AttemptTimeout,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		BackoffInitial: cfg.Worker.BackoffInitial,
		BackoffMax:     cfg.Worker.BackoffMax,
		FeeAccount:     cfg.Payments.FeeAccount,
	}, app.Logger)

	queueOpts := queue.Options{
		Concurrency:       cfg.Worker.Concurrency,
		MaxDeliveries:     cfg.Worker.MaxDeliveries,
		RetryDelay:        cfg.Worker.RetryDelay,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		DeadLetter:        app.Worker.DeadLetter,
		Logger:            app.Logger,
	}
	if app.Redis != nil {
		app.Queue = queue.NewRedisQueue(app.Redis, cfg.Redis.QueuePrefix, queueOpts)
	} else {
		app.Queue = queue.NewMemoryQueue(queueOpts)
	}

	// 4. Orchestrator
	app.Payments = payment.NewOrchestrator(payment.Deps{
		UnitOfWork: app.Store,
		Ledger:     app.Ledger,
		Audit:      audit,
		Queue:      app.Queue,
		Validator:  payment.NewValidator(cfg.Payments.SupportedCurrencies, cfg.Payments.LargeTransaction),
		Fees: payment.NewFeeCalculator(payment.FeeSchedule{
			BaseFee:              cfg.Payments.BaseFee,
			FeeRate:              cfg.Payments.FeeRate,
			NetworkFee:           cfg.Payments.NetworkFee,
			NetworkFeeCurrencies: cfg.Payments.NetworkFeeCurrencies,
		}),
		Limits: payment.NewLimitChecker(payment.Limits{
			PerTransaction: cfg.Payments.PerTransactionLimit,
			Daily:          cfg.Payments.DailyLimit,
			Monthly:        cfg.Payments.MonthlyLimit,
		}),
		Rates:  payment.NewStaticRates(cfg.Payments.RateStaleAfter),
		Logger: app.Logger,
		Settings: payment.Settings{
			SettlementDelay: cfg.Payments.SettlementDelay,
			FeeAccount:      cfg.Payments.FeeAccount,
		},
	})

	// 5. Outbox relay and reconciliation
	if len(cfg.Kafka.Brokers) > 0 {
		app.Publisher = outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		app.Publisher = outbox.NewLogPublisher(app.Logger)
	}
	app.Relay = outbox.NewRelay(app.Store, app.Publisher, outbox.RelayConfig{
		Interval:    cfg.Kafka.RelayInterval,
		BatchSize:   cfg.Kafka.BatchSize,
		MaxAttempts: cfg.Kafka.MaxAttempts,
	}, app.Logger)

	app.Reconciler = reconcile.NewEngine(app.Store, adapters, cfg.Reconciliation.MatchSlack, app.Logger)
	var locker reconcile.Locker = reconcile.NoopLocker{}
	if app.Redis != nil {
		locker = reconcile.NewRedisLocker(app.Redis, cfg.Reconciliation.LockTTL)
	}
	app.Scheduler = reconcile.NewScheduler(app.Reconciler, locker,
		cfg.Reconciliation.Interval, cfg.Reconciliation.Window, app.Logger)

	// 6. HTTP
	app.HTTPHandler = router.NewRouter(
		handler.NewPaymentHandler(app.Payments, app.Logger),
		handler.NewLedgerHandler(app.Payments, app.Reconciler, app.Logger),
		cfg.Server.RequestTimeout,
		app.Logger,
	)
	app.Logger.Info("Application components initialized.")
	return nil
}

// Start launches the settlement consumers, the outbox relay and the reconciliation scheduler.
func (app *Application) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)
	if err := app.Queue.Subscribe(ctx, app.Worker.Handle); err != nil {
		return fmt.Errorf("failed to subscribe settlement workers: %w", err)
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.Relay.Run(ctx)
	}()

	if app.Config.Reconciliation.Enabled {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.Scheduler.Run(ctx)
		}()
	}
	app.Logger.Info("Background workers started.", "concurrency", app.Config.Worker.Concurrency)
	return nil
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.Queue != nil {
		if err := app.Queue.Close(); err != nil {
			app.Logger.Error("Failed to close queue", "error", err)
		}
	}
	if app.cancel != nil {
		app.cancel()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		app.Logger.Warn("background workers did not stop in time")
	}

	if app.Publisher != nil {
		if err := app.Publisher.Close(); err != nil {
			app.Logger.Error("Failed to close event publisher", "error", err)
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Error("Failed to close redis client", "error", err)
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", "error", err)
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		app.Logger.Info("Database connection closed.")
	}
	app.Logger.Info("Application shut down gracefully.")
	return nil
}
