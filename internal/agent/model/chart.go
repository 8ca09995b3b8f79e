package model

type RenderStatus int

const (
	Unrendered RenderStatus = iota
	Rendered
	RenderFailed
)

func (s RenderStatus) String() string {
	switch s {
	case Rendered:
		return "rendered"
	case RenderFailed:
		return "render_failed"
	default:
		return "unrendered"
	}
}

type CritiqueStatus int

const (
	NotCritiqued CritiqueStatus = iota
	Approved
	Rejected
)

func (s CritiqueStatus) String() string {
	switch s {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return "not_critiqued"
	}
}

// EvaluationResult is the critique verdict. NoOpinion marks a verdict that
// defaulted to approval because the critic returned nothing usable.
type EvaluationResult struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason"`
	NoOpinion bool   `json:"-"`
}

// ChartOutcome summarizes how a chart loop terminated.
type ChartOutcome string

const (
	OutcomeApproved            ChartOutcome = "approved"
	OutcomeRenderedNotApproved ChartOutcome = "rendered_not_approved"
	OutcomeNeverRendered       ChartOutcome = "never_rendered"
)

// ChartCandidate carries the latest chart spec and its verdicts.
type ChartCandidate struct {
	// Spec is the Vega-Lite JSON without inline data.
	Spec   string
	Result *QueryResult

	Render      RenderStatus
	RenderError string

	Critique       CritiqueStatus
	CritiqueReason string
	NoOpinion      bool

	OuterAttempts int
	InnerAttempts int

	// Image is the last full render, nil when nothing rendered.
	Image []byte

	InvocationID string
	ImageName    string
	SpecName     string
	DataName     string

	CostUSD float64
}

// Outcome classifies the terminal state of the candidate.
func (c *ChartCandidate) Outcome() ChartOutcome {
	switch {
	case c == nil || c.Image == nil:
		return OutcomeNeverRendered
	case c.Critique == Approved:
		return OutcomeApproved
	default:
		return OutcomeRenderedNotApproved
	}
}
