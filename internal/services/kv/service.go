// -----------------------------------------------------------------------
// Key/Value Service
// Operator-facing access to the local store holding API keys and variables
// -----------------------------------------------------------------------

package kv

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Service fronts the key/value store for the CLI subcommands. Stored
// values are API keys more often than not, so listings go through
// MaskValue before they reach a terminal.
type Service struct {
	storage interfaces.KeyValueStorage
	logger  arbor.ILogger
}

// NewService creates a new key/value service
func NewService(storage interfaces.KeyValueStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Get retrieves a value by key
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	value, err := s.storage.Get(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get key/value pair")
		return "", err
	}

	s.logger.Debug().Str("key", key).Msg("Retrieved key/value pair")
	return value, nil
}

// Set stores or updates a key/value pair
func (s *Service) Set(ctx context.Context, key string, value string, description string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	err := s.storage.Set(ctx, key, value, description)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to store key/value pair")
		return err
	}

	s.logger.Info().Str("key", key).Msg("Stored key/value pair")
	return nil
}

// Delete removes a key/value pair
func (s *Service) Delete(ctx context.Context, key string) error {
	err := s.storage.Delete(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to delete key/value pair")
		return err
	}

	s.logger.Info().Str("key", key).Msg("Deleted key/value pair")
	return nil
}

// List returns all key/value pairs ordered by most recent update
func (s *Service) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	pairs, err := s.storage.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list key/value pairs")
		return nil, err
	}

	s.logger.Debug().Int("count", len(pairs)).Msg("Listed key/value pairs")
	return pairs, nil
}

// GetAll returns all key/value pairs as a map
func (s *Service) GetAll(ctx context.Context) (map[string]string, error) {
	kvMap, err := s.storage.GetAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to retrieve all key/value pairs")
		return nil, err
	}

	s.logger.Debug().Int("count", len(kvMap)).Msg("Retrieved all key/value pairs")
	return kvMap, nil
}

// MaskValue hides most of a stored value so key listings are safe to
// paste into tickets. Values shorter than 8 characters are fully hidden,
// longer ones keep the first and last 4 characters.
func MaskValue(value string) string {
	if len(value) < 8 {
		return "••••••••"
	}

	return value[:4] + "..." + value[len(value)-4:]
}
