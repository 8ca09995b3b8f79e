// Package cli provides the command-line interface of the data agent.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	envFile      string
	metricsAddr  string
	conversation string
	jsonOutput   bool

	config *AppConfig
}

// appBuilder builds the App for a command. Tests swap it for a fake.
type appBuilder func(ctx context.Context, cfg *AppConfig, withModels bool) (*App, error)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(BuildApp)
}

func newRootCmd(build appBuilder) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "data-agent",
		Short: "Answer business questions with SQL and charts",
		Long: `data-agent turns natural-language questions into warehouse SQL, runs it,
and designs a Vega-Lite chart of the result that a critic model reviews.

Configuration comes from the environment, optionally loaded from an env file.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := LoadConfig(opts.envFile)
			if err != nil {
				return err
			}
			opts.config = cfg

			logx.Init(logx.LoggerOpts{
				Level:  cfg.App.Level(),
				JSON:   cfg.App.JSONLogs(),
				Output: cmd.ErrOrStderr(),
			})

			if opts.metricsAddr != "" {
				go func() {
					if err := metrics.Serve(opts.metricsAddr); err != nil {
						logx.Error().Err(err).Str("addr", opts.metricsAddr).Msg("Metrics server stopped")
					}
				}()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().StringVarP(&opts.conversation, "conversation", "c", "", "conversation id (a new one is generated when empty)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(newAskCommand(opts, build))
	rootCmd.AddCommand(newSQLCommand(opts, build))
	rootCmd.AddCommand(newChartCommand(opts, build))
	rootCmd.AddCommand(newBatchCommand(opts, build))
	rootCmd.AddCommand(newCatalogCommand(opts, build))
	rootCmd.AddCommand(newChartImageCommand(opts, build))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// conversationID returns the --conversation flag or a fresh id.
func (o *rootOptions) conversationID() string {
	if o.conversation != "" {
		return o.conversation
	}
	return uuid.NewString()
}

// withApp builds the App, runs fn and releases the App afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, build appBuilder, withModels bool, fn func(*App) error) error {
	if o.config == nil {
		return fmt.Errorf("configuration was not loaded")
	}
	app, err := build(cmd.Context(), o.config, withModels)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logx.Warn().Err(err).Msg("Error closing app")
		}
	}()
	return fn(app)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
