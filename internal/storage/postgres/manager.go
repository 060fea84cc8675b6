package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db         *PostgresDB
	articulum  interfaces.ArticulumStorage
	catalog    interfaces.CatalogTaskStorage
	object     interfaces.ObjectTaskStorage
	proxy      interfaces.ProxyStorage
	listing    interfaces.ListingStorage
	objectData interfaces.ObjectDataStorage
	recovery   interfaces.RecoveryStorage
	logger     arbor.ILogger
}

// NewManager creates a new PostgreSQL storage manager
func NewManager(logger arbor.ILogger, config *common.DatabaseConfig) (interfaces.StorageManager, error) {
	db, err := NewPostgresDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:         db,
		articulum:  NewArticulumStorage(db, logger),
		catalog:    NewCatalogTaskStorage(db, logger),
		object:     NewObjectTaskStorage(db, logger),
		proxy:      NewProxyStorage(db, logger),
		listing:    NewListingStorage(db, logger),
		objectData: NewObjectDataStorage(db, logger),
		recovery:   NewRecoveryStorage(db, logger),
		logger:     logger,
	}, nil
}

// ArticulumStorage returns the articulum storage interface
func (m *Manager) ArticulumStorage() interfaces.ArticulumStorage {
	return m.articulum
}

// CatalogTaskStorage returns the catalog task storage interface
func (m *Manager) CatalogTaskStorage() interfaces.CatalogTaskStorage {
	return m.catalog
}

// ObjectTaskStorage returns the object task storage interface
func (m *Manager) ObjectTaskStorage() interfaces.ObjectTaskStorage {
	return m.object
}

// ProxyStorage returns the proxy storage interface
func (m *Manager) ProxyStorage() interfaces.ProxyStorage {
	return m.proxy
}

// ListingStorage returns the listing storage interface
func (m *Manager) ListingStorage() interfaces.ListingStorage {
	return m.listing
}

// ObjectDataStorage returns the object data storage interface
func (m *Manager) ObjectDataStorage() interfaces.ObjectDataStorage {
	return m.objectData
}

// RecoveryStorage returns the recovery storage interface
func (m *Manager) RecoveryStorage() interfaces.RecoveryStorage {
	return m.recovery
}

// Ping verifies the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
