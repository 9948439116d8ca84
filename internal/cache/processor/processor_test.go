package processor

import (
	"context"
	"testing"
	"time"

	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/model"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
	"github.com/metaswitch/homestead-cache/internal/cache/stats"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
	"github.com/metaswitch/homestead-cache/internal/cache/workerpool"
)

func newTestProcessor(t *testing.T, workers, queueSize int) *Processor {
	t.Helper()
	local, err := store.NewLocal(":memory:")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })
	r := reconciler.New(impustore.New("local", local), nil, reconciler.Config{CASRetries: 5}, nil)
	pool := workerpool.New(workers, queueSize, nil)
	t.Cleanup(pool.Stop)
	return New(pool, r, stats.New(), nil)
}

func TestProcessorPutThenGetIRS(t *testing.T) {
	p := newTestProcessor(t, 2, 4)

	irs := model.NewIRS(model.NewDefaultIMPU("sip:a@x.com", nil, nil, model.RegRegistered, model.ChargingAddresses{}, "", 0))

	putDone := make(chan error, 1)
	progressed := false
	if status := p.PutIRS(irs, func() { progressed = true }, func(err error) { putDone <- err }); status != StatusAccepted {
		t.Fatalf("PutIRS status = %v, want StatusAccepted", status)
	}
	if err := waitErr(t, putDone); err != nil {
		t.Fatalf("PutIRS callback err: %v", err)
	}
	if !progressed {
		t.Error("progress callback never fired")
	}

	getDone := make(chan struct {
		irs *model.IRS
		err error
	}, 1)
	if status := p.GetIRS("sip:a@x.com", func(irs *model.IRS, err error) {
		getDone <- struct {
			irs *model.IRS
			err error
		}{irs, err}
	}); status != StatusAccepted {
		t.Fatalf("GetIRS status = %v, want StatusAccepted", status)
	}

	select {
	case r := <-getDone:
		if r.err != nil {
			t.Fatalf("GetIRS callback err: %v", r.err)
		}
		if r.irs.IMPU() != "sip:a@x.com" {
			t.Errorf("IMPU = %q, want sip:a@x.com", r.irs.IMPU())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetIRS callback did not fire")
	}
}

func TestProcessorQueueFull(t *testing.T) {
	p := newTestProcessor(t, 1, 1)

	block := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	p.pool.Submit(func(ctx context.Context) {
		close(block)
		<-release
	})
	<-block

	p.pool.Submit(func(ctx context.Context) {}) // fills the 1-capacity queue

	irs := model.NewIRS(model.NewDefaultIMPU("sip:a@x.com", nil, nil, model.RegRegistered, model.ChargingAddresses{}, "", 0))
	status := p.PutIRS(irs, nil, func(err error) {})
	if status != StatusQueueFull {
		t.Fatalf("PutIRS status = %v, want StatusQueueFull", status)
	}
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire within timeout")
		return nil
	}
}
