// -----------------------------------------------------------------------
// Key Management
// set-key and list-keys subcommands for the local key/value store
// -----------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	kvsvc "github.com/ternarybob/colligo/internal/services/kv"
	kvstore "github.com/ternarybob/colligo/internal/storage/kv"
)

// openKeyStore opens the Badger-backed store the service reads API keys
// from. Badger takes an exclusive lock, so these subcommands only work
// while the service is stopped.
func openKeyStore(config *common.Config, logger arbor.ILogger) (*kvsvc.Service, func()) {
	store, err := kvstore.NewStore(logger, &config.KV)
	if err != nil {
		logger.Fatal().Err(err).Str("path", config.KV.Path).Msg("Failed to open key/value store (is the service running?)")
		os.Exit(1)
	}

	return kvsvc.NewService(store, logger), func() { store.Close() }
}

// runSetKey stores a single key/value pair, typically an API key that
// the resolution chain falls back to when no environment variable is set.
func runSetKey(config *common.Config, logger arbor.ILogger, key, value string) {
	service, closeStore := openKeyStore(config, logger)
	defer closeStore()

	if err := service.Set(context.Background(), key, value, "Set from CLI"); err != nil {
		logger.Fatal().Err(err).Str("key", key).Msg("Failed to store key")
		os.Exit(1)
	}

	fmt.Printf("Stored %s = %s\n", key, kvsvc.MaskValue(value))
}

// runListKeys prints every stored key with a masked value.
func runListKeys(config *common.Config, logger arbor.ILogger) {
	service, closeStore := openKeyStore(config, logger)
	defer closeStore()

	pairs, err := service.List(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to list keys")
		os.Exit(1)
	}

	if len(pairs) == 0 {
		fmt.Println("No keys stored")
		return
	}

	for _, pair := range pairs {
		fmt.Printf("%-28s %-16s %s\n", pair.Key, kvsvc.MaskValue(pair.Value), pair.Description)
	}
}
