// =============================================================================
// Gateway configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("NEXUSGATE").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration structure
// =============================================================================

// Config is the gateway's complete configuration.
type Config struct {
	// Gateway holds the gateway's own tunables (ports, timeouts, defaults).
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// OpenAI, Anthropic, Google, Ollama, VLLM hold one provider's
	// credentials and endpoint each. Their fields bind to the literal
	// environment variable names spec.md §6 names (OPENAI_API_KEY, not
	// NEXUSGATE_OPENAI_API_KEY), via the env_absolute tag.
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	VLLM      VLLMConfig      `yaml:"vllm"`

	// Log and Telemetry are ambient concerns, bound under the configured
	// prefix like Gateway.
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// GatewayConfig configures the gateway process itself: the ports it
// listens on, its shutdown behavior, and the defaults new budget scopes
// are configured with when none is specified explicitly.
type GatewayConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// DefaultBudgetCapUSD and DefaultBudgetWindow seed the global budget
	// scope's llm/budget.Ledger.Configure call at startup.
	DefaultBudgetCapUSD float64       `yaml:"default_budget_cap_usd" env:"DEFAULT_BUDGET_CAP_USD"`
	DefaultBudgetWindow time.Duration `yaml:"default_budget_window" env:"DEFAULT_BUDGET_WINDOW"`

	// EventBusQueueSize is loaded but not read by any component:
	// eventbus.Bus.Subscribe calls that don't set a queue size use
	// eventbus.DefaultQueueSize.
	EventBusQueueSize int `yaml:"event_bus_queue_size" env:"EVENT_BUS_QUEUE_SIZE"`
}

// OpenAIConfig configures the OpenAI provider client.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env_absolute:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env_absolute:"OPENAI_BASE_URL"`
}

// AnthropicConfig configures the Anthropic provider client.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key" env_absolute:"ANTHROPIC_API_KEY"`
	BaseURL string `yaml:"base_url" env_absolute:"ANTHROPIC_BASE_URL"`
}

// GoogleConfig configures the Gemini provider client.
type GoogleConfig struct {
	APIKey       string `yaml:"api_key" env_absolute:"GOOGLE_API_KEY"`
	BaseURL      string `yaml:"base_url" env_absolute:"GOOGLE_BASE_URL"`
	DefaultModel string `yaml:"default_model" env_absolute:"GOOGLE_DEFAULT_MODEL"`
}

// OllamaConfig configures the self-hosted Ollama provider client.
type OllamaConfig struct {
	BaseURL      string `yaml:"base_url" env_absolute:"OLLAMA_BASE_URL"`
	DefaultModel string `yaml:"default_model" env_absolute:"OLLAMA_DEFAULT_MODEL"`
	KeepAlive    string `yaml:"keep_alive" env_absolute:"OLLAMA_KEEP_ALIVE"`
	VerifySSL    bool   `yaml:"verify_ssl" env_absolute:"OLLAMA_VERIFY_SSL"`
}

// VLLMConfig configures the self-hosted, OpenAI-compatible vLLM provider
// client.
type VLLMConfig struct {
	BaseURL      string `yaml:"base_url" env_absolute:"VLLM_BASE_URL"`
	APIKey       string `yaml:"api_key" env_absolute:"VLLM_API_KEY"`
	DefaultModel string `yaml:"default_model" env_absolute:"VLLM_DEFAULT_MODEL"`
	VerifySSL    bool   `yaml:"verify_ssl" env_absolute:"VLLM_VERIFY_SSL"`
}

// LogConfig configures the zap logger every package in this module shares.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OpenTelemetry exporter.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads a Config (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new Loader, defaulting its prefix to NEXUSGATE for
// the gateway's own tunables (provider credentials always bind at their
// absolute spec.md name, regardless of prefix).
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "NEXUSGATE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for the gateway's own tunables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers a config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the Config: defaults, then the YAML file if configured, then
// environment variable overrides, then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks v's fields recursively. A leaf field with an
// env_absolute tag binds to that literal environment variable name
// regardless of prefix; otherwise it binds under prefix+"_"+env (or just
// env, when prefix is empty). Struct fields are always recursed into, with
// or without their own env tag, so absolute-tagged leaves nested under an
// untagged struct (OpenAIConfig, etc.) still resolve.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		envTag := fieldType.Tag.Get("env")

		if field.Kind() == reflect.Struct {
			childPrefix := prefix
			if envTag != "" && envTag != "-" {
				childPrefix = joinEnvKey(prefix, envTag)
			}
			if err := setFieldsFromEnv(field, childPrefix); err != nil {
				return err
			}
			continue
		}

		envKey := fieldType.Tag.Get("env_absolute")
		if envKey == "" {
			if envTag == "" || envTag == "-" {
				continue
			}
			envKey = joinEnvKey(prefix, envTag)
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func joinEnvKey(prefix, tag string) string {
	if prefix == "" {
		return tag
	}
	return prefix + "_" + tag
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the loaded Config for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.HTTPPort <= 0 || c.Gateway.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Gateway.DefaultBudgetCapUSD < 0 {
		errs = append(errs, "default_budget_cap_usd must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
