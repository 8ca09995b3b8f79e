// Package core holds process-wide settings shared by every command.
package core

import (
	"fmt"
	"strings"
)

// Environment is the deployment stage the agent runs in.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Log formats accepted by LOG_FORMAT.
const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config carries the process-wide runtime settings.
type Config struct {
	Env string `envconfig:"APP_ENV" default:"development"`
	// LogLevel overrides the level the environment implies.
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"auto"`
}

// Validate rejects values no environment understands.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", LogFormatAuto, LogFormatConsole, LogFormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q (want auto, console or json)", c.LogFormat)
	}
}

func (c Config) Environment() Environment {
	return ParseEnvironment(c.Env)
}

// Level is LOG_LEVEL when set, otherwise debug outside production and info
// in production.
func (c Config) Level() string {
	if lv := strings.ToLower(strings.TrimSpace(c.LogLevel)); lv != "" {
		return lv
	}
	if c.Environment() == Production {
		return "info"
	}
	return "debug"
}

// JSONLogs reports whether log lines should be JSON. Auto picks JSON for
// staging and production.
func (c Config) JSONLogs() bool {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case LogFormatJSON:
		return true
	case LogFormatConsole:
		return false
	}
	env := c.Environment()
	return env == Production || env == Staging
}

func (e Environment) String() string {
	return string(e)
}

// ParseEnvironment maps a free-form value onto a known environment. Common
// abbreviations are accepted; anything else is Development.
func ParseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "testing", "test":
		return Testing
	default:
		return Development
	}
}
