package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/storage/kv"
	"github.com/ternarybob/colligo/internal/storage/postgres"
)

// NewStorageManager creates the PostgreSQL storage manager
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	return postgres.NewManager(logger, &config.Database)
}

// NewKeyValueStore opens the local Badger-backed key/value store
func NewKeyValueStore(logger arbor.ILogger, config *common.Config) (*kv.Store, error) {
	return kv.NewStore(logger, &config.KV)
}
