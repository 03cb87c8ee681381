package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/config"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/executor"
	"github.com/kylemclaren/chat-tasks/internal/notify"
	"github.com/kylemclaren/chat-tasks/internal/scheduler"
	"github.com/kylemclaren/chat-tasks/internal/settings"
	"github.com/kylemclaren/chat-tasks/internal/stream"
	"github.com/kylemclaren/chat-tasks/internal/timer"
	"github.com/kylemclaren/chat-tasks/internal/webhook"
)

// App wires every component from one configuration
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *db.DB
	Settings      *settings.Provider
	Transport     *chat.Transport
	Dispatcher    *timer.Dispatcher
	Executor      *executor.Executor
	Scheduler     *scheduler.Scheduler
	Conversations *conversation.Service
	Stream        *stream.Manager

	redis *redis.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New opens the database and timer backend and builds the components.
// Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	database, err := db.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     database,
		Stream: stream.NewManager(),
	}

	queue, err := a.openQueue(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}

	a.Settings = settings.New(database, cfg.Model)
	a.Transport = chat.NewTransport(chat.WithLogger(logger))
	a.Dispatcher = timer.NewDispatcher(queue,
		timer.WithInterval(cfg.Scheduler.PollInterval),
		timer.WithWorkers(cfg.Scheduler.Workers),
		timer.WithLogger(logger),
	)

	notifier := a.notifier()
	a.Executor = executor.New(a.Transport, a.Settings, database, notifier, executor.WithLogger(logger))
	a.Scheduler = scheduler.New(database, a.Dispatcher, a.Executor,
		scheduler.WithLogger(logger),
		scheduler.WithNotifier(notifier),
		scheduler.WithPublisher(a.Stream),
	)
	a.Conversations = conversation.New(database, a.Transport, a.Settings, logger)
	return a, nil
}

func (a *App) openQueue(ctx context.Context) (timer.Queue, error) {
	switch a.Config.Timer.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr: a.Config.Timer.RedisAddr,
			DB:   a.Config.Timer.RedisDB,
		})
		q := timer.NewRedisQueue(a.redis, a.Config.Timer.Prefix)
		if err := q.Ping(ctx); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", a.Config.Timer.RedisAddr, err)
		}
		a.Logger.Info("using redis timer queue", "addr", a.Config.Timer.RedisAddr)
		return q, nil
	default:
		return timer.NewSQLiteQueue(a.DB), nil
	}
}

// notifier fans every outcome out to the log, the event stream and any
// configured webhooks
func (a *App) notifier() notify.Notifier {
	targets := notify.Multi{notify.Log{Logger: a.Logger}, a.Stream}
	if url := a.Config.Notify.DiscordWebhook; url != "" {
		targets = append(targets, webhook.NewDiscord(url))
	}
	if url := a.Config.Notify.SlackWebhook; url != "" {
		targets = append(targets, webhook.NewSlack(url))
	}
	return targets
}

// Start arms every active task, runs the timer dispatcher and starts
// retention pruning
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	if err := a.Scheduler.ScheduleAll(ctx); err != nil {
		if !errors.Is(err, scheduler.ErrInvalidSchedule) {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		a.Logger.Warn("some tasks were disabled", "error", err)
	}

	if err := a.Scheduler.StartMaintenance(a.Config.Scheduler.PruneSchedule, a.Config.Scheduler.Retention()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.running.Add(1)
	go func() {
		defer a.running.Done()
		a.Dispatcher.Run(runCtx, a.Scheduler.Fire)
	}()
	return nil
}

// Reload applies a changed configuration file to components that support it
func (a *App) Reload(cfg *config.Config) {
	a.Settings.SetDefaults(cfg.Model)
	a.Logger.Info("configuration reloaded", "model", cfg.Model.Model, "provider", cfg.Model.Provider)
}

// Stop halts the dispatcher and maintenance and waits for in-flight runs
func (a *App) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.running.Wait()
	}
	a.Scheduler.Stop()
}

// Close stops everything and releases the database and Redis connections
func (a *App) Close() error {
	a.Stop()
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
