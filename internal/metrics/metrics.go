// Package metrics holds the prometheus collectors of the agent.
package metrics

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const namespace = "data_agent"

var (
	WarehouseCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "warehouse_calls_total", Help: "Warehouse round trips by engine, operation and result.",
	}, []string{"engine", "op", "result"})
	WarehouseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "warehouse_call_duration_seconds", Help: "Warehouse round trip latency.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"engine", "op"})

	SQLAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "sql_validation_attempts", Help: "Validation attempts used per synthesized query.",
		Buckets: []float64{1, 2, 3},
	})
	SQLOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "sql_outcomes_total", Help: "Final validation status of synthesized queries.",
	}, []string{"status"})

	ChartOuterAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "chart_critique_iterations", Help: "Critique iterations used per chart.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	ChartInnerAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "chart_render_attempts", Help: "Render attempts used per critique iteration.",
		Buckets: []float64{1, 2, 3, 5, 8, 10},
	})
	ChartOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "chart_outcomes_total", Help: "Final state of chart synthesis.",
	}, []string{"outcome"})
	CritiqueVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "critique_verdicts_total", Help: "Critique verdicts by kind.",
	}, []string{"verdict"})

	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "graph_node_duration_seconds", Help: "Time spent in each pipeline node.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
	}, []string{"node", "result"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "llm_calls_total", Help: "Language model calls by model and result.",
	}, []string{"model", "result"})
	LLMCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "llm_cost_usd_total", Help: "Estimated language model spend.",
	}, []string{"model"})
)

// Critique verdict labels.
const (
	VerdictApproved  = "approved"
	VerdictRejected  = "rejected"
	VerdictNoOpinion = "no_opinion"
)

func ObserveWarehouseCall(engine, op string, d time.Duration, err error) {
	WarehouseCalls.WithLabelValues(engine, op, resultLabel(err)).Inc()
	WarehouseDuration.WithLabelValues(engine, op).Observe(d.Seconds())
}

func ObserveLLMCall(model string, costUSD float64, err error) {
	LLMCalls.WithLabelValues(model, resultLabel(err)).Inc()
	if costUSD > 0 {
		LLMCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

func ObserveNode(node string, d time.Duration, err error) {
	NodeDuration.WithLabelValues(node, resultLabel(err)).Observe(d.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errx.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// Serve exposes /metrics on addr until the listener fails.
func Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logx.Info().Str("addr", listener.Addr().String()).Msg("serving metrics")
	if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
