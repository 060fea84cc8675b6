// -----------------------------------------------------------------------
// Storage interfaces - Postgres-backed task scheduling and lifecycle state
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// ArticulumStorage - lifecycle state machine over the articulums table.
// Every transition is a conditional update gated on the expected source
// state; the boolean result reports whether the row matched. Calling a
// transition whose source state is terminal is a programmer error and
// fails before touching the database.
type ArticulumStorage interface {
	Create(ctx context.Context, articulum string) (*models.Articulum, error)
	CreateBatch(ctx context.Context, articulums []string) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Articulum, error)
	GetByName(ctx context.Context, articulum string) (*models.Articulum, error)
	StateCounts(ctx context.Context) (map[models.ArticulumState]int, error)

	// Typed transitions
	ToCatalogParsing(ctx context.Context, id int64) (bool, error)
	ToCatalogParsed(ctx context.Context, id int64) (bool, error)
	ToValidating(ctx context.Context, id int64) (bool, error)
	ToValidated(ctx context.Context, id int64) (bool, error)
	ToObjectParsing(ctx context.Context, id int64) (bool, error)
	Reject(ctx context.Context, id int64) (bool, error)
	RollbackToCatalogParsed(ctx context.Context, id int64) (bool, error)
	RollbackToNew(ctx context.Context, id int64) (bool, error)

	// ClaimForValidation atomically moves the oldest CATALOG_PARSED
	// articulum to VALIDATING and returns it. Returns nil when none are
	// eligible.
	ClaimForValidation(ctx context.Context) (*models.Articulum, error)

	// MarkValidated transitions VALIDATING -> VALIDATED and, when
	// materialize is true, creates object tasks for every listing that
	// passed all required stages, in one transaction. Returns the number
	// of tasks created.
	MarkValidated(ctx context.Context, id int64, materialize bool) (int64, error)
}

// CatalogTaskStorage - persistent catalog-parse work queue.
type CatalogTaskStorage interface {
	// Enqueue inserts a pending task with checkpoint_page=1. Never
	// touches articulum state.
	Enqueue(ctx context.Context, articulumID int64) error

	// EnqueueMissing inserts pending tasks for every NEW articulum that
	// has no pending or processing task. Returns the number created.
	EnqueueMissing(ctx context.Context) (int64, error)

	// Acquire claims the oldest pending task whose articulum is NEW,
	// transitions the articulum to CATALOG_PARSING, and stamps the task
	// processing under workerID. Returns nil when nothing is claimable;
	// a lost transition race also yields nil.
	Acquire(ctx context.Context, workerID string) (*models.CatalogTask, error)

	// CompleteWithListings persists the parsed listings, marks the task
	// completed, and transitions the articulum CATALOG_PARSING ->
	// CATALOG_PARSED, all in one transaction. A failed transition
	// aborts the whole transaction. Returns the number of listings
	// actually inserted (duplicates are dropped).
	CompleteWithListings(ctx context.Context, task *models.CatalogTask, listings []models.CatalogListing) (int, error)

	Fail(ctx context.Context, taskID int64, reason string) error
	Invalidate(ctx context.Context, taskID int64, reason string) error

	// ReturnToQueue puts the task back to pending and clears worker_id.
	// The articulum state is left untouched; the heartbeat checker's
	// orphan pass is the rescue path.
	ReturnToQueue(ctx context.Context, taskID int64) error

	UpdateCheckpoint(ctx context.Context, taskID int64, page int) error
	UpdateHeartbeat(ctx context.Context, taskID int64) error
	PendingCount(ctx context.Context) (int, error)
}

// ObjectTaskStorage - persistent detail-parse work queue with a global
// processing cap enforced under an advisory lock.
type ObjectTaskStorage interface {
	// Acquire claims the oldest pending task unless maxProcessing tasks
	// are already processing. The count check and the claim are
	// serialized through a transaction-scoped advisory lock. Returns
	// nil when nothing is claimable or the cap is reached.
	Acquire(ctx context.Context, workerID string, maxProcessing int) (*models.ObjectTask, error)

	// CreateForArticulum materializes tasks for every listing of the
	// articulum with a passed result per required validation stage.
	// Idempotent: existing (articulum, item) pairs are skipped.
	CreateForArticulum(ctx context.Context, articulumID int64) (int64, error)

	Complete(ctx context.Context, taskID int64) error
	Fail(ctx context.Context, taskID int64, reason string) error
	Invalidate(ctx context.Context, taskID int64, reason string) error
	ReturnToQueue(ctx context.Context, taskID int64) error
	UpdateHeartbeat(ctx context.Context, taskID int64) error

	// SeedFromValidated re-materializes tasks for every articulum
	// sitting in VALIDATED, without transitioning any of them.
	SeedFromValidated(ctx context.Context) (int64, error)

	// SeedForReparse enqueues tasks from object-data history: listings
	// whose most recent parse is older than minInterval, restricted by
	// the re-parse filter tables when they are non-empty.
	SeedForReparse(ctx context.Context, minInterval time.Duration) (int64, error)

	// ValidatedBufferCount counts distinct VALIDATED articuli that still
	// have pending object tasks. Drives catalog-vs-object priority.
	ValidatedBufferCount(ctx context.Context) (int, error)

	PendingCount(ctx context.Context) (int, error)
}

// ProxyStorage - exclusive-lease proxy pool.
type ProxyStorage interface {
	// Acquire leases one unblocked, unleased proxy for workerID.
	// Returns nil when the pool is dry.
	Acquire(ctx context.Context, workerID string) (*models.Proxy, error)

	// Release clears the lease iff the proxy is not blocked.
	Release(ctx context.Context, proxyID int64) error

	// Block permanently retires the proxy and clears the lease.
	Block(ctx context.Context, proxyID int64, reason string) error

	// IncrementError bumps consecutive_errors atomically. At the
	// maxErrors threshold the proxy is blocked, otherwise released.
	// Returns whether the proxy ended up blocked.
	IncrementError(ctx context.Context, proxyID int64, description string, maxErrors int) (bool, error)

	// ResetErrorCounter zeroes the budget after a confirmed success.
	ResetErrorCounter(ctx context.Context, proxyID int64) error

	// ReleaseByWorker clears every lease held by workerID. Used when a
	// worker dies or its tasks are rescued.
	ReleaseByWorker(ctx context.Context, workerID string) (int64, error)

	Upsert(ctx context.Context, proxy *models.Proxy) error
	Stats(ctx context.Context) (*models.ProxyStats, error)
}

// ListingStorage - catalog listings and validation audit rows.
type ListingStorage interface {
	GetByArticulum(ctx context.Context, articulumID int64) ([]models.CatalogListing, error)

	// SaveValidationResults appends audit rows. The table is
	// append-only; rows are never updated or deleted.
	SaveValidationResults(ctx context.Context, results []models.ValidationResult) error

	// UpdateImageKeys records object-store keys for a listing's
	// collected images.
	UpdateImageKeys(ctx context.Context, avitoItemID string, keys []string) error
}

// ObjectDataStorage - append-only detail-parse history.
type ObjectDataStorage interface {
	Save(ctx context.Context, articulumID int64, card *models.Card) (int64, error)
}

// RecoveryStorage - heartbeat-driven rescue of abandoned work.
type RecoveryStorage interface {
	// RescueCatalogTasks returns every processing catalog task whose
	// heartbeat is older than timeout to pending. Per task, in one
	// transaction: the owning worker's proxies are released first, the
	// articulum is conditionally rolled CATALOG_PARSING -> NEW, then
	// the task is reset.
	RescueCatalogTasks(ctx context.Context, timeout time.Duration) (int, error)

	// RescueObjectTasks does the same for object tasks, without any
	// articulum rollback.
	RescueObjectTasks(ctx context.Context, timeout time.Duration) (int, error)

	// RescueOrphanedArticulums rolls CATALOG_PARSING articuli whose
	// task is already pending back to NEW.
	RescueOrphanedArticulums(ctx context.Context) (int, error)

	// ReapStaleProxies releases every lease held by a worker id outside
	// liveWorkers. Leases of live workers are never touched; a
	// freshly-booted worker reclaims its old lease through Acquire
	// instead of a boot-time sweep.
	ReapStaleProxies(ctx context.Context, liveWorkers []string) (int64, error)

	// ReleaseWorkerResources releases a dead worker's proxies and
	// returns its processing tasks, both queues, to pending.
	ReleaseWorkerResources(ctx context.Context, workerID string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ArticulumStorage() ArticulumStorage
	CatalogTaskStorage() CatalogTaskStorage
	ObjectTaskStorage() ObjectTaskStorage
	ProxyStorage() ProxyStorage
	ListingStorage() ListingStorage
	ObjectDataStorage() ObjectDataStorage
	RecoveryStorage() RecoveryStorage
	Ping(ctx context.Context) error
	Close() error
}
