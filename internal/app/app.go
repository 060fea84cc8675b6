// -----------------------------------------------------------------------
// Application Wiring
// Opens storage, builds the services and worker fleet, owns shutdown
// -----------------------------------------------------------------------

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/browser"
	"github.com/ternarybob/colligo/internal/services/heartbeat"
	"github.com/ternarybob/colligo/internal/services/imagestore"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/proxy"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/supervisor"
	"github.com/ternarybob/colligo/internal/services/validation"
	"github.com/ternarybob/colligo/internal/storage"
	kvstore "github.com/ternarybob/colligo/internal/storage/kv"
)

// App holds every wired component of one colligo process.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	KVStore        *kvstore.Store

	ProxyService *proxy.Service
	ImageStore   *imagestore.S3Store
	Validator    interfaces.AIValidator

	Scheduler  interfaces.SchedulerService
	Checker    *heartbeat.Checker
	Supervisor *supervisor.Supervisor
	Workers    []supervisor.Worker
}

// New initializes the application in dependency order: storage first,
// then services, then the worker fleet and its supervisor.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Int("browser_workers", cfg.Workers.BrowserWorkers).
		Int("validation_workers", cfg.Workers.ValidationWorkers).
		Bool("ai_enabled", cfg.AI.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the Postgres pool (migrations run at open) and the
// local key/value store, then applies stored key replacements to the
// config so later services see resolved values.
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("host", a.Config.Database.Host).
		Str("database", a.Config.Database.Name).
		Msg("Postgres storage initialized")

	kvStore, err := storage.NewKeyValueStore(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to open key/value store: %w", err)
	}
	a.KVStore = kvStore

	ctx := context.Background()
	a.seedDefaultKeys(ctx)

	// Variables from files land before replacement so config values can
	// reference them.
	if a.Config.Variables.Dir != "" {
		if err := a.KVStore.LoadVariablesFromFiles(ctx, a.Config.Variables.Dir); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to load variables from files")
		}
	}

	kvMap, err := a.KVStore.GetAll(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
	} else if len(kvMap) > 0 {
		if err := common.ReplaceInStruct(a.Config, kvMap, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to replace key references in config")
		} else {
			a.Logger.Debug().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config")
		}
	}

	return nil
}

// seedDefaultKeys creates the well-known key slots when missing. An
// existing value, even an empty one an operator cleared, is left alone.
func (a *App) seedDefaultKeys(ctx context.Context) {
	for _, def := range common.GetDefaultKVValues() {
		_, err := a.KVStore.Get(ctx, def.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			a.Logger.Warn().Err(err).Str("key", def.Key).Msg("Failed to check default key")
			continue
		}
		if err := a.KVStore.Set(ctx, def.Key, def.Value, def.Description); err != nil {
			a.Logger.Warn().Err(err).Str("key", def.Key).Msg("Failed to seed default key")
		}
	}
}

// initServices builds the services and the worker fleet in dependency
// order.
func (a *App) initServices() error {
	ctx := context.Background()

	a.ProxyService = proxy.NewService(a.StorageManager.ProxyStorage(), &a.Config.Proxy, a.Logger)

	store, err := imagestore.NewS3Store(&a.Config.Images, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}
	a.ImageStore = store
	if store.Enabled() {
		if err := store.EnsureBucket(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to ensure image bucket, uploads will fail until it exists")
		}
	}

	if a.Config.AI.Enabled {
		validator, err := llm.NewValidator(a.Config, a.KVStore, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to initialize AI validator, AI stage disabled")
		} else {
			a.Validator = validator
			a.Logger.Debug().Str("provider", validator.Name()).Msg("AI validator initialized")
		}
	}

	var collector interfaces.ImageCollector
	if a.Config.Images.Collect && store.Enabled() {
		collector = imagestore.NewCollector(&a.Config.Images, store, a.Logger)
		a.Logger.Debug().Str("bucket", a.Config.Images.S3Bucket).Msg("Image collection enabled")
	}

	// No captcha solver ships; the bounded resolution flow treats nil as
	// immediate non-resolution.
	var solver interfaces.CaptchaSolver

	liveWorkers := make([]string, 0, a.Config.Workers.BrowserWorkers+a.Config.Workers.ValidationWorkers)
	for i := 1; i <= a.Config.Workers.BrowserWorkers; i++ {
		id := common.BrowserWorkerID(i)
		a.Workers = append(a.Workers, browser.NewWorker(id, a.Config, a.StorageManager, a.ProxyService, solver, collector, a.Logger))
		liveWorkers = append(liveWorkers, id)
	}
	for i := 1; i <= a.Config.Workers.ValidationWorkers; i++ {
		id := common.ValidationWorkerID(i)
		a.Workers = append(a.Workers, validation.NewWorker(id, a.Config, a.StorageManager, a.Validator, store, a.Logger))
		liveWorkers = append(liveWorkers, id)
	}

	a.Scheduler = scheduler.NewService(a.Logger)
	a.Checker = heartbeat.NewChecker(a.Config, a.StorageManager, liveWorkers, a.Logger)
	if err := a.Checker.Register(a.Scheduler); err != nil {
		return fmt.Errorf("failed to register heartbeat jobs: %w", err)
	}
	if err := a.Scheduler.RegisterJob("kv-gc", "@daily", "Badger value-log garbage collection",
		func(ctx context.Context) error { return a.KVStore.RunGC() }); err != nil {
		return fmt.Errorf("failed to register kv gc job: %w", err)
	}

	a.Supervisor = supervisor.New(a.Config, a.StorageManager, a.Scheduler, a.Workers, a.Logger)
	return nil
}

// Run drives the supervisor until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Supervisor.Run(ctx)
}

// Close releases application resources. The Postgres pool closes last
// so every earlier teardown step can still reach the database.
func (a *App) Close() error {
	if a.KVStore != nil {
		if err := a.KVStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close key/value store")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
