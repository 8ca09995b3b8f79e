// Package prompts renders the embedded prompt templates through eino's
// prompt component so prompt callbacks observe every rendering.
package prompts

import (
	"context"
	_ "embed"
	"fmt"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-data-agent/server/internal/agent/graph/observers"
)

var (
	//go:embed template/sql_system.txt
	sqlSystemTemplate string
	//go:embed template/sql_request.txt
	sqlRequestTemplate string
	//go:embed template/sql_correction_system.txt
	sqlCorrectionSystemTemplate string
	//go:embed template/sql_correction.txt
	sqlCorrectionTemplate string
	//go:embed template/chart_request.txt
	chartRequestTemplate string
	//go:embed template/chart_fix.txt
	chartFixTemplate string
	//go:embed template/chart_feedback.txt
	chartFeedbackTemplate string
	//go:embed template/critique_system.txt
	critiqueSystemTemplate string
	//go:embed template/critique.txt
	critiqueTemplate string
)

// Warehouse describes the target the SQL prompts talk about.
type Warehouse struct {
	Dialect  string
	Catalog  string
	Database string
	// Qualify renders a fully qualified table reference.
	Qualify func(table string) string
}

func (w Warehouse) vars() map[string]any {
	qualify := w.Qualify
	if qualify == nil {
		qualify = func(t string) string { return `"` + t + `"` }
	}
	return map[string]any{
		"Dialect":         w.Dialect,
		"Catalog":         w.Catalog,
		"Database":        w.Database,
		"ExampleTable":    "`" + qualify("YourTable") + "`",
		"ConversionTable": "`" + qualify("DatedConversionRate") + "`",
	}
}

// SQLRequest renders the initial synthesis conversation.
func SQLRequest(ctx context.Context, w Warehouse, request, schemaJSON string) ([]*schema.Message, error) {
	vars := w.vars()
	vars["Request"] = request
	vars["Schema"] = schemaJSON
	return render(ctx, "sql_request", vars, schema.SystemMessage(sqlSystemTemplate), schema.UserMessage(sqlRequestTemplate))
}

// SQLCorrection renders the narrower repair conversation.
func SQLCorrection(ctx context.Context, w Warehouse, query, diagnostic string, hints []string, schemaJSON string) ([]*schema.Message, error) {
	vars := w.vars()
	vars["Query"] = query
	vars["Error"] = diagnostic
	vars["Hints"] = hints
	vars["Schema"] = schemaJSON
	return render(ctx, "sql_correction", vars, schema.SystemMessage(sqlCorrectionSystemTemplate), schema.UserMessage(sqlCorrectionTemplate))
}

type ChartRequestVars struct {
	Question    string
	SubQuestion string
	SQL         string
	Notes       string
	DTypes      string
	Preview     string
	PreviewRows int
	RowCount    int
	SchemaMajor int
}

func ChartRequest(ctx context.Context, v ChartRequestVars) (*schema.Message, error) {
	if v.SchemaMajor == 0 {
		v.SchemaMajor = 5
	}
	return renderOne(ctx, "chart_request", map[string]any{
		"Question":    v.Question,
		"SubQuestion": v.SubQuestion,
		"SQL":         v.SQL,
		"Notes":       v.Notes,
		"DTypes":      v.DTypes,
		"Preview":     v.Preview,
		"PreviewRows": v.PreviewRows,
		"RowCount":    v.RowCount,
		"SchemaMajor": v.SchemaMajor,
	}, chartRequestTemplate)
}

// ChartFix renders the message sent after a failed render.
func ChartFix(ctx context.Context, spec, dtypes, errorType, errorText string) (*schema.Message, error) {
	return renderOne(ctx, "chart_fix", map[string]any{
		"Spec":      spec,
		"DTypes":    dtypes,
		"ErrorType": errorType,
		"Error":     errorText,
	}, chartFixTemplate)
}

// ChartFeedback renders the message sent after a rejected or unrenderable chart.
func ChartFeedback(ctx context.Context, reason, spec string) (*schema.Message, error) {
	return renderOne(ctx, "chart_feedback", map[string]any{"Reason": reason, "Spec": spec}, chartFeedbackTemplate)
}

// Critique returns the system prompt and the text that accompanies the image.
func Critique(ctx context.Context, question string, rowCount int, spec string) (system, text string, err error) {
	msgs, err := render(ctx, "critique", map[string]any{
		"Question": question,
		"RowCount": rowCount,
		"Spec":     spec,
	}, schema.SystemMessage(critiqueSystemTemplate), schema.UserMessage(critiqueTemplate))
	if err != nil {
		return "", "", err
	}
	return msgs[0].Content, msgs[1].Content, nil
}

func renderOne(ctx context.Context, name string, vars map[string]any, tpl string) (*schema.Message, error) {
	msgs, err := render(ctx, name, vars, schema.UserMessage(tpl))
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

func render(ctx context.Context, name string, vars map[string]any, templates ...schema.MessagesTemplate) ([]*schema.Message, error) {
	ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{Name: name, Type: "GoTemplate", Component: components.ComponentOfPrompt}, observers.NewAllCallbacks())
	msgs, err := prompt.FromMessages(schema.GoTemplate, templates...).Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("render %s prompt: %w", name, err)
	}
	if len(msgs) != len(templates) {
		return nil, fmt.Errorf("render %s prompt: expected %d messages, got %d", name, len(templates), len(msgs))
	}
	return msgs, nil
}
