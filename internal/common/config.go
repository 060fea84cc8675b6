package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Logging    LoggingConfig    `toml:"logging"`
	Database   DatabaseConfig   `toml:"database"`
	Workers    WorkersConfig    `toml:"workers"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Object     ObjectConfig     `toml:"object"`
	Browser    BrowserConfig    `toml:"browser"`
	Proxy      ProxyConfig      `toml:"proxy"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
	Validation ValidationConfig `toml:"validation"`
	AI         AIConfig         `toml:"ai"`
	Gemini     GeminiConfig     `toml:"gemini"`
	Claude     ClaudeConfig     `toml:"claude"`
	Images     ImagesConfig     `toml:"images"`
	Reparse    ReparseConfig    `toml:"reparse"`
	KV         KVConfig         `toml:"kv"`
	Variables  VariablesConfig  `toml:"variables"`
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"` // "development" or "production"
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type DatabaseConfig struct {
	Host           string `toml:"host" validate:"required"`
	Port           int    `toml:"port" validate:"gte=1,lte=65535"`
	Name           string `toml:"name" validate:"required"`
	User           string `toml:"user" validate:"required"`
	Password       string `toml:"password"`
	SSLMode        string `toml:"ssl_mode"`
	MaxConns       int    `toml:"max_conns" validate:"gte=1"`
	MinConns       int    `toml:"min_conns" validate:"gte=0"`
	ConnectTimeout string `toml:"connect_timeout"` // e.g. "10s"
}

// DSN returns the pgx connection string for the configured database.
func (d *DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

type WorkersConfig struct {
	BrowserWorkers    int    `toml:"browser_workers" validate:"gte=0"`
	ValidationWorkers int    `toml:"validation_workers" validate:"gte=0"`
	IdleDelay         string `toml:"idle_delay"`    // Sleep when no task claimable
	ErrorDelay        string `toml:"error_delay"`   // Sleep after a failed iteration
	RestartDelay      string `toml:"restart_delay"` // Supervisor delay before relaunch
}

type CatalogConfig struct {
	MaxPages        int  `toml:"max_pages" validate:"gte=1"` // Pagination depth per run
	BufferSize      int  `toml:"buffer_size"`                // Validated-articulum buffer steering task priority
	MaxPageAttempts int  `toml:"max_page_attempts"`          // Proxy/captcha swap budget per run
	IncludeHTML     bool `toml:"include_html"`
}

type ObjectConfig struct {
	MaxConcurrent      int    `toml:"max_concurrent" validate:"gte=1"` // Global processing cap across all workers
	ServerErrorRetries int    `toml:"server_error_retries"`
	ServerErrorDelay   string `toml:"server_error_delay"`
	IncludeHTML        bool   `toml:"include_html"` // Persist raw card HTML with each record
}

type BrowserConfig struct {
	Headless        bool   `toml:"headless"`
	UserAgent       string `toml:"user_agent"`
	NavTimeout      string `toml:"nav_timeout"`
	TeardownTimeout string `toml:"teardown_timeout"` // Bound on browser close during swaps and shutdown
	PageDelay       string `toml:"page_delay"`       // Pause between catalog pages
}

type ProxyConfig struct {
	WaitInterval         string `toml:"wait_interval"` // Poll interval while the pool is dry
	MaxConsecutiveErrors int    `toml:"max_consecutive_errors"`
}

type HeartbeatConfig struct {
	Timeout        string `toml:"timeout"`         // Staleness bound before a task is rescued
	UpdateInterval string `toml:"update_interval"` // Worker-side stamp interval
	CheckInterval  string `toml:"check_interval"`  // Sweep schedule
}

type ValidationConfig struct {
	MinPrice               float64  `toml:"min_price"`
	MinValidatedItems      int      `toml:"min_validated_items" validate:"gte=1"`
	MinSellerReviews       int      `toml:"min_seller_reviews"`
	EnablePriceValidation  bool     `toml:"enable_price_validation"`
	RequireArticulumInText bool     `toml:"require_articulum_in_text"`
	Stopwords              []string `toml:"stopwords"`
	IdleDelay              string   `toml:"idle_delay"`
	ErrorDelay             string   `toml:"error_delay"`
}

// AIConfig selects and bounds the AI validation stage. Provider names:
// "gemini", "claude", "claude-cli", "accept".
type AIConfig struct {
	Enabled             bool   `toml:"enabled"`
	Provider            string `toml:"provider" validate:"omitempty,oneof=gemini claude claude-cli accept"`
	FallbackProvider    string `toml:"fallback_provider" validate:"omitempty,oneof=gemini claude claude-cli accept"`
	UseImages           bool   `toml:"use_images"`
	MaxListings         int    `toml:"max_listings"` // Batch cap per model call
	MaxImagesPerListing int    `toml:"max_images_per_listing"`
	MaxErrors           int    `toml:"max_errors"` // Consecutive transport failures before shutdown
	CLICommand          string `toml:"cli_command"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"` // Minimum spacing between calls
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

type ImagesConfig struct {
	Collect        bool   `toml:"collect"`
	MaxPerListing  int    `toml:"max_per_listing"`
	S3Endpoint     string `toml:"s3_endpoint"`
	S3Region       string `toml:"s3_region"`
	S3Bucket       string `toml:"s3_bucket"`
	S3AccessKey    string `toml:"s3_access_key"`
	S3SecretKey    string `toml:"s3_secret_key"`
	S3UsePathStyle bool   `toml:"s3_use_path_style"` // MinIO needs path-style addressing
}

type ReparseConfig struct {
	Enabled           bool `toml:"enabled"`
	MinIntervalHours  int  `toml:"min_interval_hours"`
	SkipObjectParsing bool `toml:"skip_object_parsing"`
}

// KVConfig locates the local Badger store used for API keys and
// replaceable config variables.
type KVConfig struct {
	Path string `toml:"path"`
}

// VariablesConfig locates variable files (TOML key/value) loaded into
// the KV store at startup.
type VariablesConfig struct {
	Dir string `toml:"dir"`
}

// DefaultStopwords are substring markers for counterfeit and
// second-hand listings, matched against title+snippet+seller.
var DefaultStopwords = []string{
	"копия", "реплика", "подделка", "фейк", "fake", "replica", "copy",
	"имитация", "аналог", "не оригинал", "неоригинал", "китай", "china",
	"подобие", "как оригинал", "копи", "копию", "дубликат", "дубль",
	"б/у", "бу", "б у", "использованный", "использованная", "ношенный",
	"ношеный", "поношенный", "second hand", "second-hand", "secondhand",
	"used", "worn", "pre-owned", "preowned", "pre owned", "после носки",
	"поноска", "с дефектами", "дефект", "потертости", "потёртости",
	"царапины", "следы носки", "требует ремонта", "на запчасти",
	"не новый", "не новая",
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "colligo",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "colligo",
			User:           "colligo",
			Password:       "",
			SSLMode:        "disable",
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: "10s",
		},
		Workers: WorkersConfig{
			BrowserWorkers:    10,
			ValidationWorkers: 2,
			IdleDelay:         "5s",
			ErrorDelay:        "5s",
			RestartDelay:      "3s",
		},
		Catalog: CatalogConfig{
			MaxPages:        10,
			BufferSize:      5,
			MaxPageAttempts: 3,
			IncludeHTML:     false,
		},
		Object: ObjectConfig{
			MaxConcurrent:      10,
			ServerErrorRetries: 3,
			ServerErrorDelay:   "4s",
			IncludeHTML:        false,
		},
		Browser: BrowserConfig{
			Headless:        true,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NavTimeout:      "60s",
			TeardownTimeout: "10s",
			PageDelay:       "1s",
		},
		Proxy: ProxyConfig{
			WaitInterval:         "10s",
			MaxConsecutiveErrors: 3,
		},
		Heartbeat: HeartbeatConfig{
			Timeout:        "30m",
			UpdateInterval: "30s",
			CheckInterval:  "60s",
		},
		Validation: ValidationConfig{
			MinPrice:               1000.0,
			MinValidatedItems:      3,
			MinSellerReviews:       0, // Disabled by default
			EnablePriceValidation:  true,
			RequireArticulumInText: false,
			Stopwords:              DefaultStopwords,
			IdleDelay:              "10s",
			ErrorDelay:             "5s",
		},
		AI: AIConfig{
			Enabled:             false, // Off until a provider and key are configured
			Provider:            "gemini",
			FallbackProvider:    "",
			UseImages:           true,
			MaxListings:         30,
			MaxImagesPerListing: 2,
			MaxErrors:           3,
			CLICommand:          "claude",
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-2.5-flash",
			Timeout:     "2m",
			RateLimit:   "4s", // Free-tier spacing
			Temperature: 0.1,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "2m",
			RateLimit:   "1s",
			Temperature: 0.1,
		},
		Images: ImagesConfig{
			Collect:        false,
			MaxPerListing:  2,
			S3Endpoint:     "",
			S3Region:       "us-east-1",
			S3Bucket:       "photos",
			S3UsePathStyle: true,
		},
		Reparse: ReparseConfig{
			Enabled:           false,
			MinIntervalHours:  24,
			SkipObjectParsing: false,
		},
		KV: KVConfig{
			Path: "./data/kv",
		},
		Variables: VariablesConfig{
			Dir: "./",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
// kvStorage can be nil (variable replacement is skipped).
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple files; later files
// override earlier ones. Priority: CLI flags > env > last file > ... >
// first file > defaults. kvStorage can be nil (replacement skipped).
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Perform {key-name} replacement if KV storage is available
	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			logger := arbor.NewLogger()
			logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
		} else {
			logger := arbor.NewLogger()
			if err := ReplaceInStruct(config, kvMap, logger); err != nil {
				logger.Warn().Err(err).Msg("Failed to replace key references in config")
			}
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Service.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Service.Environment = env
	}

	// Database configuration
	if host := os.Getenv("COLLIGO_DATABASE_HOST"); host != "" {
		config.Database.Host = host
	}
	if port := os.Getenv("COLLIGO_DATABASE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Database.Port = p
		}
	}
	if name := os.Getenv("COLLIGO_DATABASE_NAME"); name != "" {
		config.Database.Name = name
	}
	if user := os.Getenv("COLLIGO_DATABASE_USER"); user != "" {
		config.Database.User = user
	}
	if password := os.Getenv("COLLIGO_DATABASE_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if sslMode := os.Getenv("COLLIGO_DATABASE_SSL_MODE"); sslMode != "" {
		config.Database.SSLMode = sslMode
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Worker configuration
	if workers := os.Getenv("COLLIGO_BROWSER_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Workers.BrowserWorkers = w
		}
	}
	if workers := os.Getenv("COLLIGO_VALIDATION_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Workers.ValidationWorkers = w
		}
	}

	// Catalog configuration
	if maxPages := os.Getenv("COLLIGO_CATALOG_MAX_PAGES"); maxPages != "" {
		if mp, err := strconv.Atoi(maxPages); err == nil {
			config.Catalog.MaxPages = mp
		}
	}
	if bufferSize := os.Getenv("COLLIGO_CATALOG_BUFFER_SIZE"); bufferSize != "" {
		if bs, err := strconv.Atoi(bufferSize); err == nil {
			config.Catalog.BufferSize = bs
		}
	}

	// Object queue configuration
	if maxConcurrent := os.Getenv("COLLIGO_OBJECT_MAX_CONCURRENT"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Object.MaxConcurrent = mc
		}
	}

	// Browser configuration
	if headless := os.Getenv("COLLIGO_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}

	// Heartbeat configuration
	if timeout := os.Getenv("COLLIGO_HEARTBEAT_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Heartbeat.Timeout = timeout
		}
	}

	// Validation configuration
	if minPrice := os.Getenv("COLLIGO_MIN_PRICE"); minPrice != "" {
		if mp, err := strconv.ParseFloat(minPrice, 64); err == nil {
			config.Validation.MinPrice = mp
		}
	}
	if minItems := os.Getenv("COLLIGO_MIN_VALIDATED_ITEMS"); minItems != "" {
		if mi, err := strconv.Atoi(minItems); err == nil {
			config.Validation.MinValidatedItems = mi
		}
	}
	if minReviews := os.Getenv("COLLIGO_MIN_SELLER_REVIEWS"); minReviews != "" {
		if mr, err := strconv.Atoi(minReviews); err == nil {
			config.Validation.MinSellerReviews = mr
		}
	}
	if requireText := os.Getenv("COLLIGO_REQUIRE_ARTICULUM_IN_TEXT"); requireText != "" {
		if rt, err := strconv.ParseBool(requireText); err == nil {
			config.Validation.RequireArticulumInText = rt
		}
	}
	if enablePrice := os.Getenv("COLLIGO_ENABLE_PRICE_VALIDATION"); enablePrice != "" {
		if ep, err := strconv.ParseBool(enablePrice); err == nil {
			config.Validation.EnablePriceValidation = ep
		}
	}

	// AI configuration
	if enabled := os.Getenv("COLLIGO_AI_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.AI.Enabled = e
		}
	}
	if provider := os.Getenv("COLLIGO_AI_PROVIDER"); provider != "" {
		config.AI.Provider = provider
	}
	if fallback := os.Getenv("COLLIGO_AI_FALLBACK_PROVIDER"); fallback != "" {
		config.AI.FallbackProvider = fallback
	}
	if useImages := os.Getenv("COLLIGO_AI_USE_IMAGES"); useImages != "" {
		if ui, err := strconv.ParseBool(useImages); err == nil {
			config.AI.UseImages = ui
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("COLLIGO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("COLLIGO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("COLLIGO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // COLLIGO_ prefix takes priority
	}
	if model := os.Getenv("COLLIGO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Image store configuration
	if collect := os.Getenv("COLLIGO_IMAGES_COLLECT"); collect != "" {
		if c, err := strconv.ParseBool(collect); err == nil {
			config.Images.Collect = c
		}
	}
	if endpoint := os.Getenv("COLLIGO_S3_ENDPOINT"); endpoint != "" {
		config.Images.S3Endpoint = endpoint
	}
	if bucket := os.Getenv("COLLIGO_S3_BUCKET"); bucket != "" {
		config.Images.S3Bucket = bucket
	}
	if accessKey := os.Getenv("COLLIGO_S3_ACCESS_KEY"); accessKey != "" {
		config.Images.S3AccessKey = accessKey
	}
	if secretKey := os.Getenv("COLLIGO_S3_SECRET_KEY"); secretKey != "" {
		config.Images.S3SecretKey = secretKey
	}

	// Re-parse configuration
	if enabled := os.Getenv("COLLIGO_REPARSE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Reparse.Enabled = e
		}
	}
	if skip := os.Getenv("COLLIGO_SKIP_OBJECT_PARSING"); skip != "" {
		if s, err := strconv.ParseBool(skip); err == nil {
			config.Reparse.SkipObjectParsing = s
		}
	}

	// KV store configuration
	if kvPath := os.Getenv("COLLIGO_KV_PATH"); kvPath != "" {
		config.KV.Path = kvPath
	}
	if variablesDir := os.Getenv("COLLIGO_VARIABLES_DIR"); variablesDir != "" {
		config.Variables.Dir = variablesDir
	}
}

// FlagOverrides carries the command-line values that may override
// config. Nil pointers mean the flag was not set.
type FlagOverrides struct {
	BrowserWorkers    int
	ValidationWorkers int
	HeartbeatTimeout  string
	MinPrice          float64
	MinValidatedItems int
	Reparse           *bool
	SkipObjectParsing *bool
	AIEnabled         *bool
	CollectImages     *bool
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Command-line flags have the highest priority.
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	if flags.BrowserWorkers > 0 {
		config.Workers.BrowserWorkers = flags.BrowserWorkers
	}
	if flags.ValidationWorkers > 0 {
		config.Workers.ValidationWorkers = flags.ValidationWorkers
	}
	if flags.HeartbeatTimeout != "" {
		if _, err := time.ParseDuration(flags.HeartbeatTimeout); err == nil {
			config.Heartbeat.Timeout = flags.HeartbeatTimeout
		}
	}
	if flags.MinPrice > 0 {
		config.Validation.MinPrice = flags.MinPrice
	}
	if flags.MinValidatedItems > 0 {
		config.Validation.MinValidatedItems = flags.MinValidatedItems
	}
	if flags.Reparse != nil {
		config.Reparse.Enabled = *flags.Reparse
	}
	if flags.SkipObjectParsing != nil {
		config.Reparse.SkipObjectParsing = *flags.SkipObjectParsing
	}
	if flags.AIEnabled != nil {
		config.AI.Enabled = *flags.AIEnabled
	}
	if flags.CollectImages != nil {
		config.Images.Collect = *flags.CollectImages
	}
}

// Validate checks the configuration using go-playground/validator tags
// plus the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Workers.BrowserWorkers == 0 && c.Workers.ValidationWorkers == 0 {
		return fmt.Errorf("invalid configuration: at least one worker must be configured")
	}
	if c.AI.Enabled && c.AI.Provider == "" {
		return fmt.Errorf("invalid configuration: ai.enabled requires ai.provider")
	}
	if c.Images.Collect && c.Images.S3Endpoint == "" {
		return fmt.Errorf("invalid configuration: images.collect requires images.s3_endpoint")
	}
	return nil
}

// ResolveAPIKey resolves an API key by name with environment variable
// priority. Resolution order: environment variables -> KV store ->
// config fallback -> error.
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":    {"COLLIGO_GEMINI_API_KEY", "GEMINI_API_KEY"},
		"anthropic_api_key": {"COLLIGO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
		"claude_api_key":    {"COLLIGO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}

// ParseDurationOr parses a duration string, falling back when the
// string is empty or malformed.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Service.Environment))
	return env == "production" || env == "prod"
}
