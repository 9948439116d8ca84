package stats

import (
	"testing"

	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
)

func TestRecordOutcomeClassification(t *testing.T) {
	r := New()
	r.RecordOutcome(nil)
	r.RecordOutcome(reconciler.ErrNotFound)
	r.RecordOutcome(impustore.ErrNotFound)
	r.RecordOutcome(reconciler.ErrContentionExhausted)
	r.RecordOutcome(errBoom{})

	snap := r.Snapshot()
	if snap.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", snap.Succeeded)
	}
	if snap.NotFound != 2 {
		t.Errorf("NotFound = %d, want 2", snap.NotFound)
	}
	if snap.ContentionFail != 1 {
		t.Errorf("ContentionFail = %d, want 1", snap.ContentionFail)
	}
	if snap.OtherErrors != 1 {
		t.Errorf("OtherErrors = %d, want 1", snap.OtherErrors)
	}
}

func TestQueueCounters(t *testing.T) {
	r := New()
	r.IncQueued()
	r.IncQueued()
	r.IncQueueRejected()

	snap := r.Snapshot()
	if snap.Queued != 2 {
		t.Errorf("Queued = %d, want 2", snap.Queued)
	}
	if snap.QueueRejected != 1 {
		t.Errorf("QueueRejected = %d, want 1", snap.QueueRejected)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
