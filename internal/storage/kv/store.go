package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// Store implements the KeyValueStorage interface over Badger. It holds
// API keys and configuration variables that must survive restarts but
// do not belong in PostgreSQL.
type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

var _ interfaces.KeyValueStorage = (*Store)(nil)

// NewStore opens the Badger-backed key/value store at the configured path
func NewStore(logger arbor.ILogger, config *common.KVConfig) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create kv directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("KV store initialized")

	return &Store{
		store:  store,
		logger: logger,
	}, nil
}

// Close closes the underlying store
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// RunGC rewrites value-log files whose dead data crosses the discard
// threshold. Badger never collects on its own; ErrNoRewrite only means
// there was nothing worth reclaiming.
func (s *Store) RunGC() error {
	err := s.store.Badger().RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	if err != nil {
		return fmt.Errorf("value log gc: %w", err)
	}

	s.logger.Debug().Msg("KV store value log compacted")
	return nil
}

// normalizeKey converts a key to lowercase for case-insensitive storage
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a value by key (case-insensitive)
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var pair interfaces.KeyValuePair
	err := s.store.Get(normalizeKey(key), &pair)
	if err == badgerhold.ErrNotFound {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}

	return pair.Value, nil
}

// Set inserts or updates a key/value pair (case-insensitive)
func (s *Store) Set(ctx context.Context, key string, value string, description string) error {
	if _, err := s.Upsert(ctx, key, value, description); err != nil {
		return err
	}
	return nil
}

// Upsert inserts or updates a key/value pair, preserving CreatedAt on
// update. Returns true if a new key was created.
func (s *Store) Upsert(ctx context.Context, key string, value string, description string) (bool, error) {
	normalizedKey := normalizeKey(key)
	now := time.Now()

	pair := interfaces.KeyValuePair{
		Key:         normalizedKey,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing interfaces.KeyValuePair
	err := s.store.Get(normalizedKey, &existing)
	isNewKey := err == badgerhold.ErrNotFound

	if !isNewKey && err == nil {
		pair.CreatedAt = existing.CreatedAt
	} else if err != nil && err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}

	if err := s.store.Upsert(normalizedKey, &pair); err != nil {
		return false, fmt.Errorf("failed to upsert key/value: %w", err)
	}

	return isNewKey, nil
}

// Delete removes a key/value pair (case-insensitive)
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.store.Delete(normalizeKey(key), &interfaces.KeyValuePair{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// List returns all key/value pairs ordered by updated_at DESC
func (s *Store) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var pairs []interfaces.KeyValuePair
	err := s.store.Find(&pairs, badgerhold.Where("Key").Ne("").SortBy("UpdatedAt").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list key/value pairs: %w", err)
	}
	return pairs, nil
}

// GetAll returns all key/value pairs as a map
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	var pairs []interfaces.KeyValuePair
	err := s.store.Find(&pairs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get all key/value pairs: %w", err)
	}

	kvMap := make(map[string]string)
	for _, pair := range pairs {
		kvMap[pair.Key] = pair.Value
	}

	return kvMap, nil
}
