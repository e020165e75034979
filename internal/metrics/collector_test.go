package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/voxsync/voxsync/internal/types"
)

func TestRecordPass(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordPass("manual", types.SyncResult{
		SuccessCount:    2,
		FailedCount:     1,
		ConflictCount:   1,
		TotalOperations: 4,
	}, nil, 50*time.Millisecond)

	if got := testutil.ToFloat64(c.passesTotal.WithLabelValues("manual", "success")); got != 1 {
		t.Errorf("passes{manual,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.operationsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("operations{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.operationsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("operations{conflict} = %v, want 1", got)
	}

	c.RecordPass("periodic", types.SyncResult{}, errors.New("store broke"), time.Millisecond)
	if got := testutil.ToFloat64(c.passesTotal.WithLabelValues("periodic", "error")); got != 1 {
		t.Errorf("passes{periodic,error} = %v, want 1", got)
	}
}

func TestRecordSkipAndQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordSkip("cooldown")
	c.RecordSkip("cooldown")
	c.RecordSkip("in_flight")

	if got := testutil.ToFloat64(c.skippedTotal.WithLabelValues("cooldown")); got != 2 {
		t.Errorf("skipped{cooldown} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.skippedTotal.WithLabelValues("in_flight")); got != 1 {
		t.Errorf("skipped{in_flight} = %v, want 1", got)
	}

	c.SetQueueDepth(types.OperationStats{Pending: 3, Failed: 1})
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")); got != 3 {
		t.Errorf("queue_depth{pending} = %v, want 3", got)
	}

	c.SetQueueDepth(types.OperationStats{Pending: 0, Failed: 1})
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")); got != 0 {
		t.Errorf("queue_depth{pending} = %v, want 0 after update", got)
	}
}
