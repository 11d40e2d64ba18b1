package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"

	// placeholderAPIKey ships in the sample .env and is treated as missing.
	placeholderAPIKey = "sk-tu-api-key-aqui"
)

// Config holds all application configuration
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Loader   LoaderConfig   `yaml:"loader"`
	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig holds extraction backend configuration
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Temperature   float32       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	JSONMode      bool          `yaml:"json_mode"`
	MaxInputRunes int           `yaml:"max_input_runes"`
	VertexProject string        `yaml:"vertex_project"`
	VertexRegion  string        `yaml:"vertex_region"`
}

// PipelineConfig holds batch and retry configuration
type PipelineConfig struct {
	InputDir          string        `yaml:"input_dir"`
	OutputDir         string        `yaml:"output_dir"`
	Recursive         bool          `yaml:"recursive"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Workers           int           `yaml:"workers"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	DocumentTimeout   time.Duration `yaml:"document_timeout"`
}

// LoaderConfig holds document reader configuration
type LoaderConfig struct {
	MaxFileSize    int64 `yaml:"max_file_size"`
	DetectLanguage bool  `yaml:"detect_language"`
}

// DatabaseConfig holds the optional SQL sink configuration
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	CreateTable      bool          `yaml:"create_table"`
}

// ExportConfig holds the optional spreadsheet report configuration
type ExportConfig struct {
	XLSXPath string `yaml:"xlsx_path"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:      ProviderOpenAI,
			Model:         "gpt-4o-mini",
			BaseURL:       "https://api.openai.com/v1",
			Temperature:   0.1,
			Timeout:       45 * time.Second,
			MaxInputRunes: 12000,
			VertexRegion:  "us-central1",
		},
		Pipeline: PipelineConfig{
			InputDir:        "datos_entrada",
			OutputDir:       "datos_salida",
			MaxAttempts:     3,
			Workers:         1,
			DocumentTimeout: 5 * time.Minute,
		},
		Loader: LoaderConfig{
			MaxFileSize:    25 << 20,
			DetectLanguage: true,
		},
		Database: DatabaseConfig{
			MaxConns:        4,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration once at startup: defaults, then the
// optional YAML file at path, then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file", errors.Join(ErrConfig, err))
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "parse config file "+path, errors.Join(ErrConfig, err))
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
	c.LLM.JSONMode = getEnvAsBool("OPENAI_JSON_MODE", c.LLM.JSONMode)
	c.LLM.MaxInputRunes = getEnvAsInt("LLM_MAX_INPUT_RUNES", c.LLM.MaxInputRunes)
	c.LLM.VertexProject = getEnv("VERTEX_PROJECT_ID", c.LLM.VertexProject)
	c.LLM.VertexRegion = getEnv("VERTEX_AI_REGION", c.LLM.VertexRegion)

	c.Pipeline.InputDir = getEnv("INPUT_DIR", c.Pipeline.InputDir)
	c.Pipeline.OutputDir = getEnv("OUTPUT_DIR", c.Pipeline.OutputDir)
	c.Pipeline.Recursive = getEnvAsBool("RECURSIVE", c.Pipeline.Recursive)
	c.Pipeline.MaxAttempts = getEnvAsInt("MAX_ATTEMPTS", c.Pipeline.MaxAttempts)
	c.Pipeline.Workers = getEnvAsInt("WORKERS", c.Pipeline.Workers)
	c.Pipeline.RetryBackoff = getEnvAsDuration("RETRY_BACKOFF", c.Pipeline.RetryBackoff)
	c.Pipeline.RequestsPerSecond = getEnvAsFloat64("BACKEND_RPS", c.Pipeline.RequestsPerSecond)
	c.Pipeline.DocumentTimeout = getEnvAsDuration("DOCUMENT_TIMEOUT", c.Pipeline.DocumentTimeout)

	c.Loader.MaxFileSize = int64(getEnvAsInt("MAX_FILE_SIZE", int(c.Loader.MaxFileSize)))
	c.Loader.DetectLanguage = getEnvAsBool("DETECT_LANGUAGE", c.Loader.DetectLanguage)

	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Export.XLSXPath = getEnv("XLSX_PATH", c.Export.XLSXPath)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. A missing backend credential
// is fatal for the whole run.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		key := strings.TrimSpace(c.LLM.APIKey)
		if key == "" || key == placeholderAPIKey {
			return NewAppError("CONFIG_ERROR",
				"OPENAI_API_KEY no configurada; edita el archivo .env con tu API key válida", ErrConfig)
		}
	case ProviderVertex:
		if strings.TrimSpace(c.LLM.VertexProject) == "" {
			return NewAppError("CONFIG_ERROR", "VERTEX_PROJECT_ID is required for the vertex provider", ErrConfig)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown LLM provider %q", c.LLM.Provider), ErrConfig)
	}

	v := NewValidator().
		Field("pipeline.max_attempts", c.Pipeline.MaxAttempts, Positive).
		Field("pipeline.workers", c.Pipeline.Workers, Positive).
		Field("pipeline.input_dir", c.Pipeline.InputDir, Required).
		Field("pipeline.output_dir", c.Pipeline.OutputDir, Required).
		Field("pipeline.requests_per_second", c.Pipeline.RequestsPerSecond, NonNegative).
		Field("log.format", c.Log.Format, OneOf("text", "json"))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrConfig)
	}
	return nil
}
