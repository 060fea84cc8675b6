// -----------------------------------------------------------------------
// Bulk Loaders
// load-proxies and load-articulums subcommands
// -----------------------------------------------------------------------

package main

import (
	"context"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage"
)

type proxyFile struct {
	Proxies []proxyEntry `yaml:"proxies"`
}

type proxyEntry struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// runLoadProxies upserts every proxy from a YAML file into the pool.
// Existing proxies keyed by host/port/username get their password
// refreshed; block state and error counters are untouched.
func runLoadProxies(config *common.Config, logger arbor.ILogger, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Failed to read proxy file")
		os.Exit(1)
	}

	var file proxyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Failed to parse proxy file")
		os.Exit(1)
	}
	if len(file.Proxies) == 0 {
		logger.Fatal().Str("file", path).Msg("No proxies found in file")
		os.Exit(1)
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	defer storageManager.Close()

	ctx := context.Background()
	loaded, skipped := 0, 0
	for i, entry := range file.Proxies {
		if entry.Host == "" || entry.Port <= 0 {
			logger.Warn().Int("entry", i+1).Msg("Skipping proxy without host or port")
			skipped++
			continue
		}
		proxy := &models.Proxy{
			Host:     entry.Host,
			Port:     entry.Port,
			Username: entry.Username,
			Password: entry.Password,
		}
		if err := storageManager.ProxyStorage().Upsert(ctx, proxy); err != nil {
			logger.Error().Err(err).Str("host", entry.Host).Int("port", entry.Port).Msg("Failed to upsert proxy")
			skipped++
			continue
		}
		loaded++
	}

	logger.Info().
		Int("loaded", loaded).
		Int("skipped", skipped).
		Str("file", path).
		Msg("Proxies loaded")
}

// runLoadArticulums inserts articulums from a plain text file, one per
// line, into the NEW state. Names already present are left untouched.
func runLoadArticulums(config *common.Config, logger arbor.ILogger, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Failed to read articulum file")
		os.Exit(1)
	}

	seen := make(map[string]struct{})
	var names []string
	duplicates := 0
	for _, line := range strings.Split(string(data), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			duplicates++
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		logger.Fatal().Str("file", path).Msg("No articulums found in file")
		os.Exit(1)
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	defer storageManager.Close()

	created, err := storageManager.ArticulumStorage().CreateBatch(context.Background(), names)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to insert articulums")
		os.Exit(1)
	}

	logger.Info().
		Int64("created", created).
		Int("in_file", len(names)).
		Int("duplicates_in_file", duplicates).
		Int64("already_present", int64(len(names))-created).
		Str("file", path).
		Msg("Articulums loaded")
}
