// Package sqlgen turns a natural-language request into SQL that the
// warehouse accepts, repairing rejected plans within a fixed budget.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Chative-data-agent/server/internal/agent/catalog"
	"github.com/Chative-data-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-data-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-data-agent/server/internal/agent/llm"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/retry"
	"github.com/Chative-data-agent/server/internal/agent/warehouse"
	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// DefaultMaxAttempts bounds plan validations per request.
const DefaultMaxAttempts = 3

// Validator plans a query without running it. A *warehouse.ValidationError
// is a semantic rejection; anything else is an infrastructure failure.
type Validator interface {
	ValidatePlan(ctx context.Context, sql string) error
}

type Config struct {
	MaxAttempts           int
	CorrectionTemperature float32
	// TransientRetries bounds retries of a validation that failed for
	// infrastructure reasons. They do not consume an attempt.
	TransientRetries uint
	Warehouse        prompts.Warehouse
}

type Synthesizer struct {
	client    *llm.Client
	validator Validator
	artifacts model.ArtifactStore
	cfg       Config
}

func New(client *llm.Client, validator Validator, artifacts model.ArtifactStore, cfg Config) (*Synthesizer, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlgen: model client is nil")
	}
	if validator == nil {
		return nil, fmt.Errorf("sqlgen: validator is nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Synthesizer{client: client, validator: validator, artifacts: artifacts, cfg: cfg}, nil
}

// Synthesize writes SQL for request against c. An exhausted budget is not an
// error: the last candidate comes back with status Invalid and its reason.
func (s *Synthesizer) Synthesize(ctx context.Context, conversationID, request string, c *model.SchemaCatalog) (*model.SQLCandidate, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("sqlgen: empty request")
	}
	if c == nil || len(c.Tables) == 0 {
		return nil, fmt.Errorf("sqlgen: schema catalog is empty")
	}
	schemaJSON, err := catalog.Render(c)
	if err != nil {
		return nil, err
	}

	msgs, err := prompts.SQLRequest(ctx, s.cfg.Warehouse, request, schemaJSON)
	if err != nil {
		return nil, err
	}
	reply, err := s.client.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	cost := reply.CostUSD

	var diagnostic string
	loop := retry.Loop[string]{
		Name:        "sql",
		MaxAttempts: s.cfg.MaxAttempts,
		Validate: func(ctx context.Context, query string) (string, bool, error) {
			verr, err := s.validate(ctx, query)
			if err != nil || verr == nil {
				return "", err == nil, err
			}
			diagnostic = verr.Diagnostic
			return verr.Error(), false, nil
		},
		Repair: func(ctx context.Context, query, reason string) (string, error) {
			hints := catalog.Suggest(c, diagnostic)
			msgs, err := prompts.SQLCorrection(ctx, s.cfg.Warehouse, query, reason, hints, schemaJSON)
			if err != nil {
				return "", err
			}
			reply, err := s.client.Generate(ctx, msgs, llm.WithTemperature(s.cfg.CorrectionTemperature))
			if err != nil {
				return "", err
			}
			cost += reply.CostUSD
			return parsers.ExtractSQL(reply.Text), nil
		},
	}

	out, err := loop.Run(ctx, parsers.ExtractSQL(reply.Text))
	if err != nil {
		return nil, err
	}

	candidate := &model.SQLCandidate{
		Query:    out.Candidate,
		Request:  request,
		Status:   model.Invalid,
		Reason:   out.Reason,
		Attempts: out.Attempts,
		CostUSD:  cost,
	}
	metrics.SQLAttempts.Observe(float64(out.Attempts))
	if out.OK {
		candidate.Status = model.Valid
		candidate.Reason = ""
		if err := s.save(ctx, conversationID, candidate); err != nil {
			return nil, err
		}
	}
	metrics.SQLOutcomes.WithLabelValues(candidate.Status.String()).Inc()

	logx.Info().
		Str("conversation_id", conversationID).
		Str("status", candidate.Status.String()).
		Int("attempts", candidate.Attempts).
		Str("file", candidate.FileName).
		Msg("SQL synthesis finished")
	return candidate, nil
}

// Validate re-checks c and returns an updated copy; c itself is not touched.
func (s *Synthesizer) Validate(ctx context.Context, c *model.SQLCandidate) (*model.SQLCandidate, error) {
	if c == nil {
		return nil, fmt.Errorf("sqlgen: nil candidate")
	}
	verr, err := s.validate(ctx, c.Query)
	if err != nil {
		return nil, err
	}
	out := *c
	if verr == nil {
		out.Status = model.Valid
		out.Reason = ""
	} else {
		out.Status = model.Invalid
		out.Reason = verr.Error()
	}
	return &out, nil
}

// validate returns the engine's rejection, or nil for a valid plan. Transient
// failures are retried here and never reach the caller's attempt budget.
func (s *Synthesizer) validate(ctx context.Context, query string) (*warehouse.ValidationError, error) {
	_, err := retry.Transient(ctx, "validate_sql", s.cfg.TransientRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.validator.ValidatePlan(ctx, query)
	})
	if err == nil {
		return nil, nil
	}
	var verr *warehouse.ValidationError
	if errors.As(err, &verr) {
		return verr, nil
	}
	return nil, err
}

func (s *Synthesizer) save(ctx context.Context, conversationID string, c *model.SQLCandidate) error {
	name := FileName()
	if s.artifacts != nil {
		if err := s.artifacts.Save(ctx, conversationID, name, []byte(c.Query), "application/sql"); err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Str("file", name).Msg("failed to save SQL artifact")
			return err
		}
	}
	c.FileName = name
	return nil
}

// FileName returns a fresh query_<hex>.sql artifact name.
func FileName() string {
	return "query_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".sql"
}
