package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/Chative-data-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-data-agent/server/internal/agent/llm"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/retry"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const (
	DefaultCritiqueIterations = 5
	DefaultRenderAttempts     = 10
	DefaultPPI                = 72
	DefaultPreviewRows        = 10
	SchemaMajorVersion        = 5
)

type Config struct {
	// CritiqueIterations bounds the outer redesign loop.
	CritiqueIterations int
	// RenderAttempts bounds render repairs within one critique iteration.
	RenderAttempts int
	PPI            int
	PreviewRows    int
}

func (c Config) withDefaults() Config {
	if c.CritiqueIterations <= 0 {
		c.CritiqueIterations = DefaultCritiqueIterations
	}
	if c.RenderAttempts <= 0 {
		c.RenderAttempts = DefaultRenderAttempts
	}
	if c.PPI <= 0 {
		c.PPI = DefaultPPI
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = DefaultPreviewRows
	}
	return c
}

// Request is what a chart is designed for.
type Request struct {
	Result           *model.QueryResult
	SQL              string
	OriginalQuestion string
	SubQuestion      string
	Notes            string
}

type Synthesizer struct {
	designer *llm.Client
	fixer    *llm.Client
	critic   *Critic
	renderer Renderer
	cfg      Config
}

// NewSynthesizer wires the chart loop. fixer handles render repairs and
// defaults to designer.
func NewSynthesizer(designer, fixer *llm.Client, critic *Critic, renderer Renderer, cfg Config) (*Synthesizer, error) {
	if designer == nil || critic == nil || renderer == nil {
		return nil, fmt.Errorf("chart: designer, critic and renderer are required")
	}
	if fixer == nil {
		fixer = designer
	}
	return &Synthesizer{designer: designer, fixer: fixer, critic: critic, renderer: renderer, cfg: cfg.withDefaults()}, nil
}

// Synthesize designs a chart for req. Exhausted budgets are not errors: the
// candidate reports how far it got through Outcome.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*model.ChartCandidate, error) {
	if req.Result == nil || len(req.Result.Columns) == 0 {
		return nil, fmt.Errorf("chart: result has no columns")
	}
	if req.SubQuestion == "" {
		req.SubQuestion = req.OriginalQuestion
	}

	sess := &session{
		s:        s,
		req:      req,
		dtypes:   tabular.DTypes(req.Result),
		rejected: map[string]bool{},
		cand: &model.ChartCandidate{
			Result:       req.Result,
			InvocationID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		},
	}

	preview, err := tabular.CSV(req.Result, s.cfg.PreviewRows)
	if err != nil {
		return nil, err
	}
	first, err := prompts.ChartRequest(ctx, prompts.ChartRequestVars{
		Question:    req.OriginalQuestion,
		SubQuestion: req.SubQuestion,
		SQL:         req.SQL,
		Notes:       req.Notes,
		DTypes:      sess.dtypes,
		Preview:     strings.TrimRight(preview, "\n"),
		PreviewRows: min(s.cfg.PreviewRows, req.Result.RowCount),
		RowCount:    req.Result.RowCount,
		SchemaMajor: SchemaMajorVersion,
	})
	if err != nil {
		return nil, err
	}
	reply, err := sess.ask(ctx, s.designer, first)
	if err != nil {
		return nil, err
	}

	outer := retry.Loop[string]{
		Name:        "chart_critique",
		MaxAttempts: s.cfg.CritiqueIterations,
		Validate:    sess.renderAndCritique,
		Repair:      sess.redesign,
	}
	out, err := outer.Run(ctx, reply)
	if err != nil {
		return nil, err
	}

	c := sess.cand
	c.OuterAttempts = out.Attempts
	metrics.ChartOuterAttempts.Observe(float64(out.Attempts))
	metrics.ChartOutcomes.WithLabelValues(string(c.Outcome())).Inc()
	logx.Info().
		Str("invocation_id", c.InvocationID).
		Str("outcome", string(c.Outcome())).
		Int("outer_attempts", c.OuterAttempts).
		Int("inner_attempts", c.InnerAttempts).
		Bool("no_opinion", c.NoOpinion).
		Float64("total_cost_usd", c.CostUSD).
		Msg("chart synthesis finished")
	return c, nil
}

// session is the state of one Synthesize call.
type session struct {
	s       *Synthesizer
	req     Request
	dtypes  string
	history []*schema.Message
	cand    *model.ChartCandidate

	// rejected holds canonical forms of specs the critic turned down.
	rejected map[string]bool
	lastErr  *RenderError
	rendered *renderedSpec
	// latest is the last reply of a render loop that never succeeded.
	latest string
}

type renderedSpec struct {
	spec      Spec
	json      string
	canonical string
	image     []byte
}

func (ss *session) ask(ctx context.Context, client *llm.Client, msg *schema.Message) (string, error) {
	ss.history = append(ss.history, msg)
	reply, err := client.Generate(ctx, ss.history)
	if err != nil {
		return "", err
	}
	ss.cand.CostUSD += reply.CostUSD
	ss.history = append(ss.history, schema.AssistantMessage(reply.Text, nil))
	return reply.Text, nil
}

// renderAndCritique is one outer iteration: render with repairs, then review.
func (ss *session) renderAndCritique(ctx context.Context, text string) (string, bool, error) {
	ss.rendered, ss.latest = nil, ""
	inner := retry.Loop[string]{
		Name:        "chart_render",
		MaxAttempts: ss.s.cfg.RenderAttempts,
		Validate:    ss.render,
		Repair:      ss.fix,
	}
	out, err := inner.Run(ctx, text)
	if err != nil {
		return "", false, err
	}
	ss.cand.InnerAttempts = out.Attempts
	metrics.ChartInnerAttempts.Observe(float64(out.Attempts))

	if !out.OK {
		ss.latest = out.Candidate
		ss.cand.RenderError = out.Reason
		if ss.cand.Image == nil {
			ss.cand.Render = model.RenderFailed
			ss.cand.Spec = out.Candidate
		}
		return "ERROR " + out.Reason, false, nil
	}

	r := ss.rendered
	ss.cand.Spec = r.json
	ss.cand.Image = r.image
	ss.cand.Render = model.Rendered
	ss.cand.RenderError = ""

	verdict, err := ss.s.critic.Critique(ctx, r.image, r.json, ss.req.SubQuestion, ss.req.Result.RowCount)
	if err != nil {
		return "", false, err
	}
	ss.cand.CostUSD += verdict.CostUSD
	ss.cand.NoOpinion = verdict.NoOpinion
	if verdict.Approved {
		ss.cand.Critique = model.Approved
		ss.cand.CritiqueReason = verdict.Reason
		return "", true, nil
	}
	ss.cand.Critique = model.Rejected
	ss.cand.CritiqueReason = verdict.Reason
	ss.rejected[r.canonical] = true
	reason := verdict.Reason
	if reason == "" {
		reason = "The chart does not answer the question."
	}
	return reason, false, nil
}

// render is one inner attempt: parse, strip, dry render, enhance and render.
func (ss *session) render(ctx context.Context, text string) (string, bool, error) {
	ss.lastErr = nil
	spec, err := ParseSpec(text)
	if err == nil {
		spec = StripData(spec)
		err = DryRender(spec, ss.req.Result)
	}
	if err == nil && ss.rejected[spec.canonical()] {
		err = &RenderError{Kind: KindUnchangedSpec, Message: "the chart is identical to the one the reviewer rejected. Change the design."}
	}

	var image []byte
	var enhanced Spec
	if err == nil {
		enhanced = EnhanceParameters(spec, ss.req.Result)
		image, err = ss.s.renderer.Render(ctx, WithData(enhanced, ss.req.Result), ss.s.cfg.PPI)
	}
	if err != nil {
		var rerr *RenderError
		if errors.As(err, &rerr) {
			ss.lastErr = rerr
			return rerr.Error(), false, nil
		}
		return "", false, err
	}

	doc, err := enhanced.JSON()
	if err != nil {
		return "", false, err
	}
	ss.rendered = &renderedSpec{spec: enhanced, json: doc, canonical: spec.canonical(), image: image}
	return "", true, nil
}

func (ss *session) fix(ctx context.Context, text, reason string) (string, error) {
	kind, message := KindRender, reason
	if ss.lastErr != nil {
		kind, message = ss.lastErr.Kind, ss.lastErr.Message
	}
	msg, err := prompts.ChartFix(ctx, text, ss.dtypes, kind, message)
	if err != nil {
		return "", err
	}
	return ss.ask(ctx, ss.s.fixer, msg)
}

func (ss *session) redesign(ctx context.Context, text, reason string) (string, error) {
	spec := text
	switch {
	case ss.rendered != nil:
		spec = ss.rendered.json
	case ss.latest != "":
		spec = ss.latest
	}
	msg, err := prompts.ChartFeedback(ctx, reason, spec)
	if err != nil {
		return "", err
	}
	return ss.ask(ctx, ss.s.designer, msg)
}
