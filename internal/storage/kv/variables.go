package kv

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// VariableFile represents the structure of a variable in a TOML file
// Format:
// [key_name]
// value = "some-value"
// description = "optional description"
type VariableFile struct {
	Value       string `toml:"value"`
	Description string `toml:"description"`
}

// LoadVariablesFromFiles loads variables into the store from TOML files.
// It first checks for a variables.toml file in the given directory, then
// loads any additional .toml files from a variables/ subdirectory.
func (s *Store) LoadVariablesFromFiles(ctx context.Context, dirPath string) error {
	if dirPath == "" {
		return nil
	}

	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	variablesFile := filepath.Join(dirPath, "variables.toml")
	if _, err := os.Stat(variablesFile); err == nil {
		loaded, skipped, errors := s.loadVariablesFromFile(ctx, variablesFile)
		loadedCount += loaded
		skippedCount += skipped
		errorCount += errors
	}

	variablesDir := filepath.Join(dirPath, "variables")
	if info, err := os.Stat(variablesDir); err == nil && info.IsDir() {
		loaded, skipped, errors := s.loadVariablesFromDirectory(ctx, variablesDir)
		loadedCount += loaded
		skippedCount += skipped
		errorCount += errors
	}

	s.logger.Debug().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading variables from files")

	return nil
}

// loadVariablesFromFile loads variables from a single TOML file
func (s *Store) loadVariablesFromFile(ctx context.Context, filePath string) (loaded, skipped, errors int) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", filePath).Msg("Failed to read variable file")
		return 0, 0, 1
	}

	var variables map[string]VariableFile
	if err := toml.Unmarshal(content, &variables); err != nil {
		s.logger.Warn().Err(err).Str("file", filePath).Msg("Failed to parse variable file")
		return 0, 0, 1
	}

	fileName := filepath.Base(filePath)
	for key, variable := range variables {
		if variable.Value == "" {
			s.logger.Warn().Str("file", fileName).Str("key", key).Msg("Skipping variable with empty value")
			skipped++
			continue
		}

		description := variable.Description
		if description == "" {
			description = "Loaded from " + fileName
		}

		isNew, err := s.Upsert(ctx, key, variable.Value, description)
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to store variable")
			errors++
			continue
		}

		if isNew {
			s.logger.Debug().Str("key", key).Msg("Loaded new variable")
		}
		loaded++
	}

	return loaded, skipped, errors
}

// loadVariablesFromDirectory loads variables from all TOML files in a directory
func (s *Store) loadVariablesFromDirectory(ctx context.Context, dirPath string) (loaded, skipped, errors int) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read variables directory")
		return 0, 0, 1
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		l, sk, e := s.loadVariablesFromFile(ctx, filepath.Join(dirPath, entry.Name()))
		loaded += l
		skipped += sk
		errors += e
	}

	return loaded, skipped, errors
}
