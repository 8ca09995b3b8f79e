package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL      string `envconfig:"CONVERSATION_TTL" default:"15m"`
	MaxTurns int    `envconfig:"CONVERSATION_MAX_TURNS" default:"6"`
}

// LLMConfig selects the provider backing every model role.
type LLMConfig struct {
	Provider         string `envconfig:"LLM_PROVIDER" default:"gemini"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL"`
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL"`
	// TransientRetries bounds provider retries for rate limits and 5xx responses.
	TransientRetries uint `envconfig:"LLM_TRANSIENT_RETRIES" default:"3"`
}

type SQLModelConfig struct {
	Model                 string  `envconfig:"SQL_MODEL" default:"gemini-2.5-pro"`
	MaxTokens             int     `envconfig:"SQL_MAX_TOKENS" default:"4096"`
	Temperature           float32 `envconfig:"SQL_TEMPERATURE" default:"0.1"`
	CorrectionTemperature float32 `envconfig:"SQL_CORRECTION_TEMPERATURE" default:"0.0"`
}

type ChartModelConfig struct {
	Model       string  `envconfig:"CHART_MODEL" default:"gemini-2.5-pro"`
	FixModel    string  `envconfig:"CHART_FIX_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CHART_MAX_TOKENS" default:"8192"`
	Temperature float32 `envconfig:"CHART_TEMPERATURE" default:"0.1"`
}

type CritiqueModelConfig struct {
	Model       string  `envconfig:"CRITIQUE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CRITIQUE_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"CRITIQUE_TEMPERATURE" default:"0.1"`
}

// WarehouseConfig describes the analytical engine the agent queries.
type WarehouseConfig struct {
	Driver   string `envconfig:"WAREHOUSE_DRIVER" default:"clickhouse"`
	Addr     string `envconfig:"WAREHOUSE_ADDR" default:"localhost:9000"`
	DSN      string `envconfig:"WAREHOUSE_DSN"`
	Catalog  string `envconfig:"WAREHOUSE_CATALOG" default:"default"`
	Database string `envconfig:"WAREHOUSE_DATABASE" default:"default"`
	Username string `envconfig:"WAREHOUSE_USERNAME" default:"default"`
	Password string `envconfig:"WAREHOUSE_PASSWORD"`
	// DialectSettings is a comma separated list of key=value session settings
	// applied before every statement.
	DialectSettings  string        `envconfig:"WAREHOUSE_DIALECT_SETTINGS"`
	QueryTimeout     time.Duration `envconfig:"WAREHOUSE_QUERY_TIMEOUT" default:"2m"`
	TransientRetries uint          `envconfig:"WAREHOUSE_TRANSIENT_RETRIES" default:"3"`
}

type CatalogConfig struct {
	MetadataFile string        `envconfig:"CATALOG_METADATA_FILE" default:"metadata/schema.json"`
	RefreshTTL   time.Duration `envconfig:"CATALOG_REFRESH_TTL" default:"0"`
	// FilterLive drops tables missing from the live warehouse.
	FilterLive bool `envconfig:"CATALOG_FILTER_LIVE" default:"true"`
}

type ArtifactConfig struct {
	Backend string `envconfig:"ARTIFACT_BACKEND" default:"memory"`
}

type RenderConfig struct {
	Command string        `envconfig:"RENDER_COMMAND" default:"vl-convert"`
	PPI     int           `envconfig:"RENDER_PPI" default:"72"`
	Timeout time.Duration `envconfig:"RENDER_TIMEOUT" default:"60s"`
}
