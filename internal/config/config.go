package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// Config holds all configuration for a diagnosis batch run.
type Config struct {
	Version    string          `yaml:"-"`
	Model      ModelConfig     `yaml:"model"`
	Runner     RunnerConfig    `yaml:"runner"`
	Context    ContextConfig   `yaml:"context"`
	Tools      ToolsConfig     `yaml:"tools"`
	Batch      BatchConfig     `yaml:"batch"`
	Log        LogConfig       `yaml:"log"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Server     ServerConfig    `yaml:"server"`
	Store      StoreConfig     `yaml:"store"`
	Notify     NotifyConfig    `yaml:"notify"`
	ErrorRules []ErrorRule     `yaml:"error_rules" validate:"dive"`
}

type ModelConfig struct {
	Name          string  `yaml:"name" validate:"required"`
	BaseURL       string  `yaml:"base_url"`
	APIToken      string  `yaml:"-"`
	Temperature   float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	ContextLength int     `yaml:"context_length" validate:"gte=0"`
	// Concurrency caps in-flight model calls across all workers.
	Concurrency    int           `yaml:"concurrency" validate:"gte=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

type RunnerConfig struct {
	MaxIterations          int           `yaml:"max_iterations" validate:"min=1"`
	MaxModelRetries        int           `yaml:"max_model_retries" validate:"gte=0"`
	RetryDelay             time.Duration `yaml:"retry_delay" validate:"gte=0"`
	MaxBackoff             time.Duration `yaml:"max_backoff" validate:"gte=0"`
	CorrectiveReprompts    int           `yaml:"corrective_reprompts" validate:"gte=0"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" validate:"min=1"`
	CaseTimeout            time.Duration `yaml:"case_timeout" validate:"gte=0"`
	TraceObservationChars  int           `yaml:"trace_observation_chars" validate:"min=16"`
}

type ContextConfig struct {
	BudgetRatio     float64 `yaml:"budget_ratio" validate:"gt=0,lte=1"`
	CompressAt      float64 `yaml:"compress_at" validate:"gt=0,lte=1"`
	ToolResultRatio float64 `yaml:"tool_result_ratio" validate:"gt=0,lte=1"`
	KeepFirst       int     `yaml:"keep_first" validate:"min=1"`
	KeepRecent      int     `yaml:"keep_recent" validate:"min=1"`
	SynopsisChars   int     `yaml:"synopsis_chars" validate:"min=16"`
	Estimator       string  `yaml:"estimator" validate:"oneof=chars tiktoken"`
	CharsPerToken   int     `yaml:"chars_per_token" validate:"min=1"`
}

type ToolsConfig struct {
	DataRoot       string           `yaml:"data_root" validate:"required"`
	Timeout        time.Duration    `yaml:"timeout" validate:"gt=0"`
	DefaultRows    int              `yaml:"default_rows" validate:"min=1"`
	MaxRows        int              `yaml:"max_rows" validate:"min=1,gtefield=DefaultRows"`
	MaxColumns     int              `yaml:"max_columns" validate:"min=1"`
	TrimmedColumns int              `yaml:"trimmed_columns" validate:"min=1,ltefield=MaxColumns"`
	MCPEndpoint    string           `yaml:"mcp_endpoint" validate:"omitempty,url"`
	MCPCommand     []string         `yaml:"mcp_command"`
	HTTP           []HTTPToolConfig `yaml:"http" validate:"dive"`
}

// HTTPToolConfig registers a tool served by a JSON-RPC tools/call endpoint.
type HTTPToolConfig struct {
	Name        string             `yaml:"name" validate:"required"`
	Description string             `yaml:"description"`
	Endpoint    string             `yaml:"endpoint" validate:"required,url"`
	AuthHeader  string             `yaml:"auth_header"`
	AuthToken   string             `yaml:"auth_token"`
	Params      []models.ParamSpec `yaml:"params"`
}

type BatchConfig struct {
	Input         string        `yaml:"input" validate:"required"`
	Output        string        `yaml:"output" validate:"required"`
	Concurrency   int           `yaml:"concurrency" validate:"min=1"`
	Limit         int           `yaml:"limit" validate:"gte=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	ProgressEvery int           `yaml:"progress_every" validate:"min=1"`
}

type LogConfig struct {
	Debug      bool   `yaml:"debug"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	// SampleRatio is the fraction of batch runs traced; child spans follow
	// their parent's decision.
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure"`
}

type ServerConfig struct {
	// Addr enables the status server when non-empty, e.g. ":8090".
	Addr string `yaml:"addr"`
	// APIKeys protects /api/v1 when set.
	APIKeys []string `yaml:"api_keys"`
}

type StoreConfig struct {
	// DSN selects the history backend: empty (memory), sqlite://path or postgres://...
	DSN string `yaml:"dsn"`
	// RetentionDays purges history older than this before a run; 0 keeps everything.
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
	// ArchiveDir receives purged records as JSONL; empty purges without archiving.
	ArchiveDir      string `yaml:"archive_dir"`
	ArchiveCompress bool   `yaml:"archive_compress"`
}

// NotifyConfig posts the run summary to a webhook when a run ends.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" validate:"omitempty,url"`
	Secret     string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ErrorRule maps errors matching an expression to a failure category.
type ErrorRule struct {
	When     string `yaml:"when" validate:"required"`
	Category string `yaml:"category" validate:"required,oneof=transient parse tool fatal"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Version: envStr("ROOTCAUSE_VERSION", "0.1.0"),
		Model: ModelConfig{
			Name:           envStr("ROOTCAUSE_MODEL", DefaultModel),
			BaseURL:        envStr("BASE_URL", ""),
			APIToken:       envStr("OPENAI_API_TOKEN", ""),
			Temperature:    envFloat("ROOTCAUSE_TEMPERATURE", 0),
			ContextLength:  envInt("ROOTCAUSE_CONTEXT_LENGTH", 0),
			Concurrency:    envInt("ROOTCAUSE_MODEL_CONCURRENCY", 0),
			RatePerSecond:  envFloat("ROOTCAUSE_MODEL_RATE", 0),
			RequestTimeout: envDuration("ROOTCAUSE_MODEL_TIMEOUT", 180*time.Second),
		},
		Runner: RunnerConfig{
			MaxIterations:          envInt("ROOTCAUSE_MAX_ITERATIONS", 30),
			MaxModelRetries:        envInt("ROOTCAUSE_MAX_MODEL_RETRIES", 5),
			RetryDelay:             envDuration("ROOTCAUSE_RETRY_DELAY", 2*time.Second),
			MaxBackoff:             envDuration("ROOTCAUSE_MAX_BACKOFF", 60*time.Second),
			CorrectiveReprompts:    envInt("ROOTCAUSE_CORRECTIVE_REPROMPTS", 1),
			MaxConsecutiveFailures: envInt("ROOTCAUSE_MAX_CONSECUTIVE_FAILURES", 3),
			CaseTimeout:            envDuration("ROOTCAUSE_CASE_TIMEOUT", 0),
			TraceObservationChars:  envInt("ROOTCAUSE_TRACE_OBSERVATION_CHARS", 100),
		},
		Context: ContextConfig{
			BudgetRatio:     envFloat("ROOTCAUSE_CONTEXT_BUDGET_RATIO", 0.8),
			CompressAt:      envFloat("ROOTCAUSE_CONTEXT_COMPRESS_AT", 0.9),
			ToolResultRatio: envFloat("ROOTCAUSE_TOOL_RESULT_RATIO", 0.15),
			KeepFirst:       envInt("ROOTCAUSE_CONTEXT_KEEP_FIRST", 2),
			KeepRecent:      envInt("ROOTCAUSE_CONTEXT_KEEP_RECENT", 4),
			SynopsisChars:   envInt("ROOTCAUSE_CONTEXT_SYNOPSIS_CHARS", 400),
			Estimator:       envStr("ROOTCAUSE_TOKEN_ESTIMATOR", "chars"),
			CharsPerToken:   envInt("ROOTCAUSE_CHARS_PER_TOKEN", 3),
		},
		Tools: ToolsConfig{
			DataRoot:       envStr("ROOTCAUSE_DATA_ROOT", "data/processed_data"),
			Timeout:        envDuration("ROOTCAUSE_TOOL_TIMEOUT", 60*time.Second),
			DefaultRows:    envInt("ROOTCAUSE_DEFAULT_ROWS", 500),
			MaxRows:        envInt("ROOTCAUSE_MAX_ROWS", 1000),
			MaxColumns:     envInt("ROOTCAUSE_MAX_COLUMNS", 15),
			TrimmedColumns: envInt("ROOTCAUSE_TRIMMED_COLUMNS", 10),
			MCPEndpoint:    envStr("ROOTCAUSE_MCP_ENDPOINT", ""),
			MCPCommand:     envList("ROOTCAUSE_MCP_COMMAND"),
		},
		Batch: BatchConfig{
			Input:         envStr("ROOTCAUSE_INPUT", "input.json"),
			Output:        envStr("ROOTCAUSE_OUTPUT", "answer.jsonl"),
			Concurrency:   envInt("ROOTCAUSE_CONCURRENCY", 8),
			Limit:         envInt("ROOTCAUSE_LIMIT", 0),
			Timeout:       envDuration("ROOTCAUSE_BATCH_TIMEOUT", 0),
			ProgressEvery: envInt("ROOTCAUSE_PROGRESS_EVERY", 5),
		},
		Log: LogConfig{
			Debug:      envBool("ROOTCAUSE_DEBUG", false),
			File:       envStr("ROOTCAUSE_LOG_FILE", ""),
			MaxSizeMB:  envInt("ROOTCAUSE_LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("ROOTCAUSE_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: envInt("ROOTCAUSE_LOG_MAX_AGE_DAYS", 14),
			Compress:   envBool("ROOTCAUSE_LOG_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "rootcause"),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Server: ServerConfig{
			Addr:    envStr("ROOTCAUSE_STATUS_ADDR", ""),
			APIKeys: envList("ROOTCAUSE_STATUS_API_KEYS"),
		},
		Store: StoreConfig{
			DSN:             envStr("ROOTCAUSE_HISTORY_DSN", ""),
			RetentionDays:   envInt("ROOTCAUSE_HISTORY_RETENTION_DAYS", 0),
			ArchiveDir:      envStr("ROOTCAUSE_HISTORY_ARCHIVE_DIR", ""),
			ArchiveCompress: envBool("ROOTCAUSE_HISTORY_ARCHIVE_COMPRESS", true),
		},
		Notify: NotifyConfig{
			WebhookURL: envStr("ROOTCAUSE_NOTIFY_WEBHOOK", ""),
			Secret:     envStr("ROOTCAUSE_NOTIFY_SECRET", ""),
			Timeout:    envDuration("ROOTCAUSE_NOTIFY_TIMEOUT", 15*time.Second),
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Fields absent from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Finalize fills derived values. It must run after all overrides are applied.
func (c *Config) Finalize() {
	profile, _ := LookupModel(c.Model.Name)
	if c.Model.ContextLength <= 0 {
		c.Model.ContextLength = profile.ContextLength
	}
	if c.Model.Concurrency <= 0 || c.Model.Concurrency > c.Batch.Concurrency {
		c.Model.Concurrency = c.Batch.Concurrency
	}
}

// Validate checks the configuration and returns the first violations in a
// readable form.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", fe.Namespace(), fe.Tag()))
			}
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ContextBudget is the token budget the conversation must stay within.
func (c *Config) ContextBudget() int {
	return int(float64(c.Model.ContextLength) * c.Context.BudgetRatio)
}

// ToolResultBudget caps the tokens of a single tool result.
func (c *Config) ToolResultBudget() int {
	n := int(float64(c.ContextBudget()) * c.Context.ToolResultRatio)
	if n > 8000 {
		n = 8000
	}
	return n
}

var validate = validator.New()

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}
