package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/model"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
)

func newTestReconciler(t *testing.T, numRemotes int) *Reconciler {
	t.Helper()
	local, err := store.NewLocal(":memory:")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })
	localIMPU := impustore.New("local", local)

	var remotes []*impustore.Store
	for i := 0; i < numRemotes; i++ {
		r, err := store.NewLocal(":memory:")
		if err != nil {
			t.Fatalf("NewLocal remote: %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		remotes = append(remotes, impustore.New(store.ID("remote"), r))
	}

	return New(localIMPU, remotes, Config{CASRetries: 5, DefaultTTL: 0}, nil)
}

func TestPutThenGetIRS(t *testing.T) {
	r := newTestReconciler(t, 1)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com",
		[]string{"sip:alice2@example.com"},
		[]string{"alice@example.com"},
		model.RegRegistered,
		model.ChargingAddresses{CCFs: []string{"ccf1"}},
		"<profile/>",
		0,
	))

	if err := r.PutIRS(ctx, irs, nil); err != nil {
		t.Fatalf("PutIRS: %v", err)
	}

	got, err := r.GetIRS(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetIRS: %v", err)
	}
	if got.IMPU() != irs.IMPU() {
		t.Errorf("IMPU = %q, want %q", got.IMPU(), irs.IMPU())
	}
	if got.Default.ServiceProfile != irs.Default.ServiceProfile {
		t.Errorf("ServiceProfile = %q, want %q", got.Default.ServiceProfile, irs.Default.ServiceProfile)
	}
}

func TestGetIRSFollowsAssociatedIMPU(t *testing.T) {
	r := newTestReconciler(t, 0)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com",
		[]string{"sip:alice2@example.com"},
		nil, model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, irs, nil); err != nil {
		t.Fatalf("PutIRS: %v", err)
	}

	got, err := r.GetIRS(ctx, "sip:alice2@example.com")
	if err != nil {
		t.Fatalf("GetIRS via associated impu: %v", err)
	}
	if got.IMPU() != "sip:alice@example.com" {
		t.Errorf("IMPU = %q, want default sip:alice@example.com", got.IMPU())
	}
}

func TestGetIRSNotFound(t *testing.T) {
	r := newTestReconciler(t, 1)
	_, err := r.GetIRS(context.Background(), "sip:nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutIRSCreatesIMPIMapping(t *testing.T) {
	r := newTestReconciler(t, 1)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com", nil, []string{"alice@example.com"},
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, irs, nil); err != nil {
		t.Fatalf("PutIRS: %v", err)
	}

	irss, err := r.GetIRSsForIMPIs(ctx, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("GetIRSsForIMPIs: %v", err)
	}
	if len(irss) != 1 || irss[0].IMPU() != "sip:alice@example.com" {
		t.Fatalf("GetIRSsForIMPIs = %+v, want one IRS for sip:alice@example.com", irss)
	}
}

func TestDeleteIRSRemovesEverything(t *testing.T) {
	r := newTestReconciler(t, 1)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com",
		[]string{"sip:alice2@example.com"},
		[]string{"alice@example.com"},
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, irs, nil); err != nil {
		t.Fatalf("PutIRS: %v", err)
	}
	if err := r.DeleteIRS(ctx, irs, nil); err != nil {
		t.Fatalf("DeleteIRS: %v", err)
	}

	if _, err := r.GetIRS(ctx, "sip:alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIRS(default) after delete = %v, want ErrNotFound", err)
	}
	if _, err := r.GetIRS(ctx, "sip:alice2@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIRS(associated) after delete = %v, want ErrNotFound", err)
	}
	irss, err := r.GetIRSsForIMPIs(ctx, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("GetIRSsForIMPIs: %v", err)
	}
	if len(irss) != 0 {
		t.Errorf("GetIRSsForIMPIs after delete = %+v, want empty", irss)
	}
}

func TestPutIRSUpdatesAssociatedIMPUDiff(t *testing.T) {
	r := newTestReconciler(t, 0)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com", []string{"sip:old@example.com"}, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, irs, nil); err != nil {
		t.Fatalf("PutIRS (1): %v", err)
	}

	updated, err := r.GetIRS(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetIRS: %v", err)
	}
	updated.Default.AssociatedIMPUs = []string{"sip:new@example.com"}
	if err := r.PutIRS(ctx, updated, nil); err != nil {
		t.Fatalf("PutIRS (2): %v", err)
	}

	if _, err := r.GetIRS(ctx, "sip:old@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIRS(old associated) = %v, want ErrNotFound after replacement", err)
	}
	got, err := r.GetIRS(ctx, "sip:new@example.com")
	if err != nil {
		t.Fatalf("GetIRS(new associated): %v", err)
	}
	if got.IMPU() != "sip:alice@example.com" {
		t.Errorf("IMPU = %q, want sip:alice@example.com", got.IMPU())
	}
}

func TestGetIMSSubscriptionRoundTrip(t *testing.T) {
	r := newTestReconciler(t, 1)
	ctx := context.Background()

	irs1 := model.NewIRS(model.NewDefaultIMPU("sip:a@x.com", nil, []string{"priv@x.com"}, model.RegRegistered, model.ChargingAddresses{}, "", 0))
	irs2 := model.NewIRS(model.NewDefaultIMPU("sip:b@x.com", nil, []string{"priv@x.com"}, model.RegRegistered, model.ChargingAddresses{}, "", 0))
	if err := r.PutIRS(ctx, irs1, nil); err != nil {
		t.Fatalf("PutIRS irs1: %v", err)
	}
	if err := r.PutIRS(ctx, irs2, nil); err != nil {
		t.Fatalf("PutIRS irs2: %v", err)
	}

	sub, err := r.GetIMSSubscription(ctx, "priv@x.com")
	if err != nil {
		t.Fatalf("GetIMSSubscription: %v", err)
	}
	if len(sub.IRSs) != 2 {
		t.Fatalf("subscription has %d IRSs, want 2", len(sub.IRSs))
	}

	if err := r.BroadcastChargingAddresses(ctx, sub, model.ChargingAddresses{CCFs: []string{"ccf-new"}}); err != nil {
		t.Fatalf("BroadcastChargingAddresses: %v", err)
	}

	refreshed, err := r.GetIRS(ctx, "sip:a@x.com")
	if err != nil {
		t.Fatalf("GetIRS after broadcast: %v", err)
	}
	if len(refreshed.Default.Charging.CCFs) != 1 || refreshed.Default.Charging.CCFs[0] != "ccf-new" {
		t.Errorf("CCFs after broadcast = %v, want [ccf-new]", refreshed.Default.Charging.CCFs)
	}
}

// TestPutIRSStealsAssociatedIMPU exercises spec.md §8 scenario S3: a
// subsequent put_irs for a different default is allowed to steal an
// Associated-IMPU record that currently points elsewhere, since the default
// record just written is authoritative over a stale pointer.
func TestPutIRSStealsAssociatedIMPU(t *testing.T) {
	r := newTestReconciler(t, 0)
	ctx := context.Background()

	first := model.NewIRS(model.NewDefaultIMPU(
		"sip:a@x.com", []string{"sip:b@x.com"}, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, first, nil); err != nil {
		t.Fatalf("PutIRS(first): %v", err)
	}

	got, err := r.GetIRS(ctx, "sip:b@x.com")
	if err != nil {
		t.Fatalf("GetIRS(sip:b@x.com) before steal: %v", err)
	}
	if got.IMPU() != "sip:a@x.com" {
		t.Fatalf("sip:b@x.com resolves to %q, want sip:a@x.com", got.IMPU())
	}

	second := model.NewIRS(model.NewDefaultIMPU(
		"sip:c@x.com", []string{"sip:b@x.com"}, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, second, nil); err != nil {
		t.Fatalf("PutIRS(second): %v", err)
	}

	stolen, err := r.GetIRS(ctx, "sip:b@x.com")
	if err != nil {
		t.Fatalf("GetIRS(sip:b@x.com) after steal: %v", err)
	}
	if stolen.IMPU() != "sip:c@x.com" {
		t.Errorf("sip:b@x.com resolves to %q after steal, want sip:c@x.com", stolen.IMPU())
	}
}

// TestPutIRSRefusesStealFromDefaultIMPU covers the third branch of the same
// three-way decision: an associated IMPU that collides with someone else's
// Default-IMPU record is refused rather than stolen.
func TestPutIRSRefusesStealFromDefaultIMPU(t *testing.T) {
	r := newTestReconciler(t, 0)
	ctx := context.Background()

	owner := model.NewIRS(model.NewDefaultIMPU(
		"sip:owner@x.com", nil, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, owner, nil); err != nil {
		t.Fatalf("PutIRS(owner): %v", err)
	}

	claimant := model.NewIRS(model.NewDefaultIMPU(
		"sip:claimant@x.com", []string{"sip:owner@x.com"}, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))
	if err := r.PutIRS(ctx, claimant, nil); err != nil {
		t.Fatalf("PutIRS(claimant): %v", err)
	}

	got, err := r.GetIRS(ctx, "sip:owner@x.com")
	if err != nil {
		t.Fatalf("GetIRS(sip:owner@x.com): %v", err)
	}
	if got.IMPU() != "sip:owner@x.com" {
		t.Errorf("sip:owner@x.com resolves to %q, want to remain its own default", got.IMPU())
	}
}

// TestPutIRSProgressFiresOnLocalDurability verifies that progress, when
// non-nil, is invoked exactly once per PutIRS call, after the local write has
// committed (spec.md §4.E/§5/§6).
func TestPutIRSProgressFiresOnLocalDurability(t *testing.T) {
	r := newTestReconciler(t, 1)
	ctx := context.Background()

	irs := model.NewIRS(model.NewDefaultIMPU(
		"sip:alice@example.com", nil, nil,
		model.RegRegistered, model.ChargingAddresses{}, "", 0,
	))

	calls := 0
	progress := func() {
		calls++
		if _, err := r.GetIRS(ctx, "sip:alice@example.com"); err != nil {
			t.Errorf("GetIRS inside progress callback: %v", err)
		}
	}
	if err := r.PutIRS(ctx, irs, progress); err != nil {
		t.Fatalf("PutIRS: %v", err)
	}
	if calls != 1 {
		t.Errorf("progress called %d times, want 1", calls)
	}
}
