package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// configFileEnv names an optional YAML file read before the environment.
// Environment variables win over values from the file.
const configFileEnv = "CONFIG_FILE"

const (
	MirrorGoogle = "google"
	MirrorMemory = "memory"
	MirrorNone   = "none"

	LLMGemini    = "gemini"
	LLMAnthropic = "anthropic"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	// HTTP Server
	Port string `yaml:"port"`

	// Ledger
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	// AMQP; an empty URL pushes to the mirror inline
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`

	// Mirror
	MirrorBackend            string        `yaml:"mirror_backend"`
	MirrorTimeout            time.Duration `yaml:"mirror_timeout"`
	MirrorOwnerTabs          bool          `yaml:"mirror_owner_tabs"`
	GoogleSpreadsheetID      string        `yaml:"google_spreadsheet_id"`
	GoogleServiceAccountJSON string        `yaml:"google_service_account_json"`
	GoogleServiceAccountFile string        `yaml:"google_service_account_file"`

	// Language capability
	LLMProvider     string        `yaml:"llm_provider"`
	LLMModel        string        `yaml:"llm_model"`
	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`

	// Interpretation cache
	CacheBackend  string `yaml:"cache_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// Worker
	SyncBatchSize     int           `yaml:"sync_batch_size"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// Owner defaults
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	DefaultCurrency        string  `yaml:"default_currency"`
	Timezone               string  `yaml:"timezone"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		Port:                   "8081",
		SQLiteDBPath:           "./data/gastos.db",
		AMQPExchange:           "gastos",
		AMQPQueue:              "mirror_push",
		MirrorBackend:          MirrorGoogle,
		MirrorTimeout:          15 * time.Second,
		LLMProvider:            LLMGemini,
		LLMTimeout:             20 * time.Second,
		CacheBackend:           CacheMemory,
		RedisAddr:              "localhost:6379",
		SyncBatchSize:          10,
		SyncInterval:           30 * time.Second,
		ReconcileInterval:      time.Hour,
		LowConfidenceThreshold: 0,
		DefaultCurrency:        "BRL",
		Timezone:               "America/Sao_Paulo",
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE
// and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv(configFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.MirrorBackend = strings.ToLower(getEnv("MIRROR_BACKEND", c.MirrorBackend))
	c.MirrorTimeout = getEnvDuration("MIRROR_TIMEOUT", c.MirrorTimeout)
	c.MirrorOwnerTabs = getEnvBool("MIRROR_OWNER_TABS", c.MirrorOwnerTabs)
	c.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.GoogleSpreadsheetID)
	c.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", c.GoogleServiceAccountJSON)
	c.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", c.GoogleServiceAccountFile)

	c.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLMProvider))
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.LLMTimeout = getEnvDuration("LLM_TIMEOUT", c.LLMTimeout)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", c.GeminiAPIKey))
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)

	c.CacheBackend = strings.ToLower(getEnv("CACHE_BACKEND", c.CacheBackend))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)

	c.SyncBatchSize = getEnvInt("SYNC_BATCH_SIZE", c.SyncBatchSize)
	c.SyncInterval = getEnvDuration("SYNC_INTERVAL", c.SyncInterval)
	c.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", c.ReconcileInterval)

	c.LowConfidenceThreshold = getEnvFloat("LOW_CONFIDENCE_THRESHOLD", c.LowConfidenceThreshold)
	c.DefaultCurrency = getEnv("DEFAULT_CURRENCY", c.DefaultCurrency)
	c.Timezone = getEnv("TIMEZONE", c.Timezone)

	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", c.LogFormat))
}

// Location returns the configured timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	mirrors := []string{MirrorGoogle, MirrorMemory, MirrorNone}
	if !slices.Contains(mirrors, c.MirrorBackend) {
		errors = append(errors, fmt.Sprintf("invalid mirror backend '%s': must be one of %v", c.MirrorBackend, mirrors))
	}
	if c.MirrorBackend == MirrorGoogle {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when using the google mirror")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS must be provided for the google mirror")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}
	if c.MirrorTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid mirror timeout %v: must be positive", c.MirrorTimeout))
	}

	switch c.LLMProvider {
	case LLMGemini:
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when using the gemini provider")
		}
	case LLMAnthropic:
		if c.AnthropicAPIKey == "" {
			errors = append(errors, "ANTHROPIC_API_KEY is required when using the anthropic provider")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid LLM provider '%s': must be one of [%s %s]", c.LLMProvider, LLMGemini, LLMAnthropic))
	}
	if c.LLMTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid LLM timeout %v: must be positive", c.LLMTimeout))
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			errors = append(errors, "REDIS_ADDR is required when using the redis cache")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid cache backend '%s': must be one of [%s %s]", c.CacheBackend, CacheMemory, CacheRedis))
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.ReconcileInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must not be negative", c.ReconcileInterval))
	}

	if c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("invalid low confidence threshold %v: must be between 0 and 1", c.LowConfidenceThreshold))
	}
	if len(c.DefaultCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter code", c.DefaultCurrency))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
