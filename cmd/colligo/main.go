// -----------------------------------------------------------------------
// Colligo
// Marketplace parsing and validation service entry point
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/app"
	"github.com/ternarybob/colligo/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths

	browserWorkers    = flag.Int("browser-workers", 0, "Browser worker count (overrides config)")
	validationWorkers = flag.Int("validation-workers", 0, "Validation worker count (overrides config)")
	heartbeatTimeout  = flag.String("heartbeat-timeout", "", "Heartbeat timeout, e.g. 30m (overrides config)")
	minPrice          = flag.Float64("min-price", 0, "Minimum listing price (overrides config)")
	minValidatedItems = flag.Int("min-validated-items", 0, "Minimum surviving listings per articulum (overrides config)")
	reparseMode       = flag.Bool("reparse", false, "Re-parse mode: seed object tasks from parse history")
	skipObjectParsing = flag.Bool("skip-object-parsing", false, "Validated articuli are not materialized into object tasks")
	aiEnabled         = flag.Bool("ai", false, "Enable the AI validation stage")
	collectImages     = flag.Bool("collect-images", false, "Collect listing images into the S3 store")
	showVersion       = flag.Bool("version", false, "Print version information")
	showVersionV      = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "version" {
		fmt.Printf("Colligo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		} else if _, err := os.Stat("deployments/local/colligo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/colligo.toml")
		}
	}

	// Load order: defaults -> file1 -> file2 -> ... -> env -> CLI flags.
	// KV replacement happens later in app.New once storage is open.
	config, err := common.LoadFromFiles(nil, configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, collectOverrides())

	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler(common.CrashLogDir)
	defer common.RecoverWithCrashFile()

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Service.Environment).
		Msg("Configuration loaded")

	switch {
	case len(args) == 0:
		runService(config, logger)
	case args[0] == "load-proxies":
		if len(args) < 2 {
			logger.Fatal().Msg("Usage: colligo load-proxies <file.yaml>")
			os.Exit(2)
		}
		runLoadProxies(config, logger, args[1])
	case args[0] == "load-articulums":
		if len(args) < 2 {
			logger.Fatal().Msg("Usage: colligo load-articulums <file>")
			os.Exit(2)
		}
		runLoadArticulums(config, logger, args[1])
	case args[0] == "set-key":
		if len(args) < 3 {
			logger.Fatal().Msg("Usage: colligo set-key <key> <value>")
			os.Exit(2)
		}
		runSetKey(config, logger, args[1], args[2])
	case args[0] == "list-keys":
		runListKeys(config, logger)
	default:
		logger.Fatal().Str("command", args[0]).Msg("Unknown command (expected none, version, load-proxies, load-articulums, set-key, list-keys)")
		os.Exit(2)
	}
}

// collectOverrides gathers the CLI values into a FlagOverrides. Boolean
// flags count only when explicitly passed, so -reparse=false still
// overrides a config that enables re-parse mode.
func collectOverrides() common.FlagOverrides {
	overrides := common.FlagOverrides{
		BrowserWorkers:    *browserWorkers,
		ValidationWorkers: *validationWorkers,
		HeartbeatTimeout:  *heartbeatTimeout,
		MinPrice:          *minPrice,
		MinValidatedItems: *minValidatedItems,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "reparse":
			overrides.Reparse = reparseMode
		case "skip-object-parsing":
			overrides.SkipObjectParsing = skipObjectParsing
		case "ai":
			overrides.AIEnabled = aiEnabled
		case "collect-images":
			overrides.CollectImages = collectImages
		}
	})
	return overrides
}

func runService(config *common.Config, logger arbor.ILogger) {
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	logger.Info().
		Str("run_id", common.NewRunID()).
		Int("workers", len(application.Workers)).
		Bool("reparse", config.Reparse.Enabled).
		Msg("Colligo started - Press Ctrl+C to stop")

	runErr := application.Run(ctx)

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown cleanup failed")
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("Service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Colligo stopped")
}
