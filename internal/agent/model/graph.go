package model

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type AppState struct {
	ConversationID string
	Question       Question
	SQL            *SQLCandidate
	Result         *QueryResult
	Chart          *ChartCandidate

	// Accumulated total LLM cost (USD) across model invocations for this question
	TotalCostUSD float64
}

// Question is the input of one agent invocation.
type Question struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	// SubQuestion is what the chart should answer; defaults to Query.
	SubQuestion string `json:"sub_question,omitempty"`
	Notes       string `json:"notes,omitempty"`
	SkipChart   bool   `json:"skip_chart,omitempty"`
}

// Answer is what an invocation returns to the caller.
type Answer struct {
	ConversationID string          `json:"conversation_id"`
	Message        string          `json:"message"`
	SQL            *SQLCandidate   `json:"sql,omitempty"`
	Result         *QueryResult    `json:"-"`
	Chart          *ChartCandidate `json:"-"`
	CostUSD        float64         `json:"cost_usd"`
}

// Turn is what the pipeline nodes hand to each other for one question.
// Request is the SQL request including any conversation context.
type Turn struct {
	Request string
	SQL     *SQLCandidate
	Result  *QueryResult
	Chart   *ChartCandidate
}
