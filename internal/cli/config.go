package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/core"
	logx "github.com/Chative-data-agent/server/pkg/logger"
	"github.com/Chative-data-agent/server/pkg/objectstore"
	pkgredis "github.com/Chative-data-agent/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the agent, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	App core.Config

	// Infrastructure
	Redis pkgredis.Config
	S3    objectstore.Config

	// LLM provider and per-role models
	LLM      model.LLMConfig
	SQL      model.SQLModelConfig
	Chart    model.ChartModelConfig
	Critique model.CritiqueModelConfig

	Warehouse    model.WarehouseConfig
	Catalog      model.CatalogConfig
	Conversation model.ConversationConfig
	Artifacts    model.ArtifactConfig
	Render       model.RenderConfig
}

// ConversationTTL parses CONVERSATION_TTL.
func (c *AppConfig) ConversationTTL() (time.Duration, error) {
	ttl, err := time.ParseDuration(c.Conversation.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid CONVERSATION_TTL %q: %w", c.Conversation.TTL, err)
	}
	return ttl, nil
}

// LoadConfig reads envFile when present and processes the environment.
func LoadConfig(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
			logx.Warn().Str("file", envFile).Msg("Could not load env file, using process environment")
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.ConversationTTL(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
