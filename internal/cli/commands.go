package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Chative-data-agent/server/internal/agent/catalog"
	"github.com/Chative-data-agent/server/internal/agent/graph"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
)

// questionFlags are the per-question options of ask and chart.
type questionFlags struct {
	subQuestion string
	notes       string
}

func (f *questionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.subQuestion, "sub-question", "", "what the chart should answer (defaults to the question)")
	cmd.Flags().StringVar(&f.notes, "notes", "", "extra charting instructions")
}

func newAskCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	var (
		q         questionFlags
		skipChart bool
		preview   int
		imageDir  string
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question with SQL, data and a chart",
		Example: `  data-agent ask "What was the revenue by region in 2024?"
  data-agent ask -c sales-review "Only EMEA please" --skip-chart`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, build, true, func(app *App) error {
				answer, err := app.Agent.Ask(cmd.Context(), model.Question{
					ConversationID: opts.conversationID(),
					Query:          strings.Join(args, " "),
					SubQuestion:    q.subQuestion,
					Notes:          q.notes,
					SkipChart:      skipChart,
				})
				if printErr := printAnswer(cmd, opts, answer, preview); printErr != nil {
					return printErr
				}
				if err != nil || imageDir == "" || answer.Chart == nil || answer.Chart.ImageName == "" {
					return err
				}
				name, image, err := app.Agent.TakeChartImage(cmd.Context(), answer.ConversationID)
				if err != nil {
					return err
				}
				return writeImage(cmd, name, image, filepath.Join(imageDir, name))
			})
		},
	}
	q.register(cmd)
	cmd.Flags().BoolVar(&skipChart, "skip-chart", false, "only return the data")
	cmd.Flags().StringVar(&imageDir, "image-dir", "", "write the chart image into this directory")
	cmd.Flags().IntVar(&preview, "preview", 0, "also print the first N result rows as a table")
	return cmd
}

func newSQLCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql QUESTION",
		Short: "Write and validate SQL for a question without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, build, true, func(app *App) error {
				ctx := cmd.Context()
				c, err := app.Catalogs.Get(ctx)
				if err != nil {
					return err
				}
				candidate, err := app.SQL.Synthesize(ctx, opts.conversationID(), strings.Join(args, " "), c)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if err := writeJSON(out, candidate); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(out, candidate.Query)
					if candidate.FileName != "" {
						fmt.Fprintf(out, "\n-- saved as %s\n", candidate.FileName)
					}
				}
				if !candidate.IsValid() {
					return fmt.Errorf("no valid SQL after %d attempts: %s", candidate.Attempts, candidate.Reason)
				}
				return nil
			})
		},
	}
	return cmd
}

func newChartCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	var (
		q       questionFlags
		sqlFile string
	)
	cmd := &cobra.Command{
		Use:     "chart --sql-file NAME QUESTION",
		Short:   "Chart the result of a query saved earlier in the conversation",
		Example: `  data-agent chart -c sales-review --sql-file query_3f2a....sql "How do regions compare?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.conversation == "" {
				return fmt.Errorf("--conversation is required to locate the saved query")
			}
			return opts.withApp(cmd, build, true, func(app *App) error {
				answer, err := app.Agent.ChartFromSQLFile(cmd.Context(), model.Question{
					ConversationID: opts.conversation,
					Query:          strings.Join(args, " "),
					SubQuestion:    q.subQuestion,
					Notes:          q.notes,
				}, sqlFile)
				if printErr := printAnswer(cmd, opts, answer, 0); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	q.register(cmd)
	cmd.Flags().StringVar(&sqlFile, "sql-file", "", "artifact name of the saved query")
	_ = cmd.MarkFlagRequired("sql-file")
	return cmd
}

func newChartImageCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "chart-image",
		Short: "Write the latest chart image of a conversation to a file",
		Long: `Writes the pending chart image of the conversation and clears it, so each
image is handed over once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.conversation == "" {
				return fmt.Errorf("--conversation is required")
			}
			return opts.withApp(cmd, build, false, func(app *App) error {
				name, image, err := graph.TakeChartImage(cmd.Context(), app.State, app.Artifacts, opts.conversation)
				if err != nil {
					return err
				}
				return writeImage(cmd, name, image, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (defaults to the image name)")
	return cmd
}

func writeImage(cmd *cobra.Command, name string, image []byte, out string) error {
	if out == "" {
		out = name
	}
	if err := os.WriteFile(out, image, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(image))
	return nil
}

func newCatalogCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	var (
		refresh   bool
		namesOnly bool
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the schema catalog the SQL model sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, build, false, func(app *App) error {
				ctx := cmd.Context()
				get := app.Catalogs.Get
				if refresh {
					get = app.Catalogs.Refresh
				}
				c, err := get(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if namesOnly {
					for _, name := range c.TableNames() {
						fmt.Fprintln(out, c.QualifiedName(name))
					}
					return nil
				}
				rendered, err := catalog.Render(c)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(out, rendered)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload the metadata file and the live table list")
	cmd.Flags().BoolVar(&namesOnly, "tables", false, "only list qualified table names")
	return cmd
}

func printAnswer(cmd *cobra.Command, opts *rootOptions, answer *model.Answer, preview int) error {
	if answer == nil {
		return nil
	}
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		return writeJSON(out, answer)
	}
	fmt.Fprintf(out, "conversation: %s\n\n", answer.ConversationID)
	if answer.SQL != nil && answer.SQL.Query != "" {
		fmt.Fprintf(out, "```sql\n%s\n```\n\n", answer.SQL.Query)
	}
	fmt.Fprintln(out, answer.Message)
	if preview > 0 && answer.Result != nil {
		fmt.Fprintln(out, tabular.Preview(answer.Result, preview))
	}
	if answer.CostUSD > 0 {
		fmt.Fprintf(out, "cost: $%.4f\n", answer.CostUSD)
	}
	return nil
}
