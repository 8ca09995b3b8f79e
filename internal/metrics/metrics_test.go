package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	errx "github.com/Chative-data-agent/server/internal/core/error"
)

func TestObserveWarehouseCall(t *testing.T) {
	ok := testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "ok"))
	transient := testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "transient"))
	failed := testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "error"))

	ObserveWarehouseCall("test", "validate", time.Millisecond, nil)
	ObserveWarehouseCall("test", "validate", time.Millisecond, errx.WrapWarehouse(errors.New("refused")))
	ObserveWarehouseCall("test", "validate", time.Millisecond, errors.New("binder"))

	assert.Equal(t, ok+1, testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "ok")))
	assert.Equal(t, transient+1, testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "transient")))
	assert.Equal(t, failed+1, testutil.ToFloat64(WarehouseCalls.WithLabelValues("test", "validate", "error")))
}

func TestObserveLLMCall(t *testing.T) {
	before := testutil.ToFloat64(LLMCostUSD.WithLabelValues("m-test"))
	ObserveLLMCall("m-test", 0.25, nil)
	ObserveLLMCall("m-test", 0, errors.New("bad"))
	assert.InDelta(t, before+0.25, testutil.ToFloat64(LLMCostUSD.WithLabelValues("m-test")), 1e-9)
	assert.Equal(t, float64(1), testutil.ToFloat64(LLMCalls.WithLabelValues("m-test", "error")))
}

func TestObserveNode(t *testing.T) {
	ObserveNode("Chart", 20*time.Millisecond, nil)
	ObserveNode("Chart", time.Second, errors.New("render"))
	assert.Equal(t, 2, testutil.CollectAndCount(NodeDuration, "data_agent_graph_node_duration_seconds"))
}
