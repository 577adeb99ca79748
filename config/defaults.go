// =============================================================================
// Default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns a Config with conservative defaults: localhost
// provider endpoints only where providers have a self-hosted mode, empty
// credentials (always overridden by the real environment), and a gateway
// budget cap of zero (meaning unconfigured — every scope admits freely
// until Gateway.DefaultBudgetCapUSD or an explicit llm/budget.Ledger.Configure
// call says otherwise).
func DefaultConfig() *Config {
	return &Config{
		Gateway:   DefaultGatewayConfig(),
		OpenAI:    OpenAIConfig{},
		Anthropic: AnthropicConfig{},
		Google:    GoogleConfig{},
		Ollama:    DefaultOllamaConfig(),
		VLLM:      DefaultVLLMConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultGatewayConfig returns the gateway's own tunable defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		HTTPPort:            8080,
		MetricsPort:         9091,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		DefaultBudgetCapUSD: 0,
		DefaultBudgetWindow: 24 * time.Hour,
		EventBusQueueSize:   1024,
	}
}

// DefaultOllamaConfig points at the conventional local Ollama daemon.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:      "http://localhost:11434",
		DefaultModel: "llama3",
		KeepAlive:    "5m",
		VerifySSL:    true,
	}
}

// DefaultVLLMConfig points at a conventional local vLLM OpenAI-compatible
// server.
func DefaultVLLMConfig() VLLMConfig {
	return VLLMConfig{
		BaseURL:      "http://localhost:8000",
		DefaultModel: "",
		VerifySSL:    true,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "nexusgate-gateway",
		SampleRate:   0.1,
	}
}
