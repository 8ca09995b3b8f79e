package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const defaultBatchConcurrency = 4

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, q model.Question) (*model.Answer, error)
}

// batchResult is one output line of the batch command.
type batchResult struct {
	Line           int     `json:"line"`
	ConversationID string  `json:"conversation_id"`
	Query          string  `json:"query"`
	Message        string  `json:"message"`
	SQL            string  `json:"sql,omitempty"`
	ChartImage     string  `json:"chart_image,omitempty"`
	CostUSD        float64 `json:"cost_usd"`
	Error          string  `json:"error,omitempty"`
}

type batchQuestion struct {
	line int
	q    model.Question
}

func newBatchCommand(opts *rootOptions, build appBuilder) *cobra.Command {
	var (
		concurrency int
		skipChart   bool
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Answer many questions concurrently",
		Long: `Reads one question per line, either plain text or a JSON object with the
fields conversation_id, query, sub_question, notes and skip_chart. Blank lines
and lines starting with # are ignored. "-" reads standard input.

Prints one JSON result per question, in input order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			questions, err := readQuestions(in)
			if err != nil {
				return err
			}
			for i := range questions {
				questions[i].q.SkipChart = questions[i].q.SkipChart || skipChart
			}

			return opts.withApp(cmd, build, true, func(app *App) error {
				results, err := runBatch(cmd.Context(), app.Agent, questions, concurrency)
				if err != nil {
					return err
				}
				return writeBatch(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", defaultBatchConcurrency, "questions answered at the same time")
	cmd.Flags().BoolVar(&skipChart, "skip-chart", false, "only return the data for every question")
	return cmd
}

func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	if name == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// readQuestions parses the batch input. Questions without a conversation id
// get a fresh one so that concurrent questions never share history.
func readQuestions(r io.Reader) ([]batchQuestion, error) {
	var out []batchQuestion
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var q model.Question
		if strings.HasPrefix(text, "{") {
			dec := json.NewDecoder(bytes.NewReader([]byte(text)))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&q); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		} else {
			q.Query = text
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, fmt.Errorf("line %d: query is empty", line)
		}
		if q.ConversationID == "" {
			q.ConversationID = uuid.NewString()
		}
		out = append(out, batchQuestion{line: line, q: q})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// runBatch answers every question on a bounded pool. A failing question is
// reported in its result and does not stop the others.
func runBatch(ctx context.Context, asker Asker, questions []batchQuestion, concurrency int) ([]batchResult, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	pool := pond.NewResultPool[batchResult](concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, bq := range questions {
		group.Submit(func() batchResult {
			res := batchResult{Line: bq.line, ConversationID: bq.q.ConversationID, Query: bq.q.Query}
			answer, err := asker.Ask(ctx, bq.q)
			if answer != nil {
				res.Message = answer.Message
				res.CostUSD = answer.CostUSD
				if answer.SQL != nil {
					res.SQL = answer.SQL.Query
				}
				if answer.Chart != nil {
					res.ChartImage = answer.Chart.ImageName
				}
			}
			if err != nil {
				res.Error = err.Error()
				logx.Warn().Err(err).Int("line", bq.line).Str("conversation_id", bq.q.ConversationID).Msg("Batch question failed")
			}
			return res
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to answer batch: %w", err)
	}

	var failed int
	var cost float64
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
		cost += r.CostUSD
	}
	logx.Info().
		Int("questions", len(results)).
		Int("failed", failed).
		Float64("total_cost_usd", cost).
		Msg("Batch finished")
	return results, nil
}

func writeBatch(w io.Writer, results []batchResult) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
