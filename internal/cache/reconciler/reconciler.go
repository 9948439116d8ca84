// Package reconciler implements the IRS Reconciler: the cache engine's
// core, responsible for assembling Implicit Registration Sets from the
// Default/Associated/IMPI-Mapping records spread across store tiers, and
// for writing/deleting them back out with CAS-protected retry across every
// tier (spec.md §4.D). Everything above this package (processor, hss)
// talks in terms of model.IRS; everything below it talks in terms of
// model.Record and store.Store.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/model"
)

// Config bounds the Reconciler's retry and expiry behavior.
type Config struct {
	CASRetries int           // max write attempts before ErrContentionExhausted
	DefaultTTL time.Duration // applied to every record this package writes
}

// DefaultConfig matches the original implementation's conservative bounds.
var DefaultConfig = Config{CASRetries: 5, DefaultTTL: 30 * time.Minute}

// Reconciler is the cache core: one local tier plus zero or more remote
// replica tiers, all read/written through impustore.Store wrappers.
type Reconciler struct {
	local   *impustore.Store
	remotes []*impustore.Store
	cfg     Config
	log     *slog.Logger
}

// New builds a Reconciler over local and remotes (remotes may be empty).
func New(local *impustore.Store, remotes []*impustore.Store, cfg Config, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{local: local, remotes: remotes, cfg: cfg, log: log}
}

func (r *Reconciler) tiers() []*impustore.Store {
	return append([]*impustore.Store{r.local}, r.remotes...)
}

// fanOutRemotes runs op against every remote tier concurrently and logs,
// rather than propagates, any failure: once the local tier has already
// committed, a remote that can't be reached is best-effort replication, not
// a reason to fail the caller (spec.md §4.D.5 "Remote store unreachable ->
// Log; local state wins", §7 "remote-store errors are logged but never fail
// the caller once the local tier has succeeded").
func (r *Reconciler) fanOutRemotes(ctx context.Context, op func(ctx context.Context, tier *impustore.Store) error) {
	var g errgroup.Group
	for _, tier := range r.remotes {
		tier := tier
		g.Go(func() error {
			if err := op(ctx, tier); err != nil {
				r.log.Warn("remote store operation failed; local state wins", "store", tier.ID(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// GetIRS resolves impu to its owning IRS, following an Associated-IMPU
// pointer to its Default-IMPU record if necessary (spec.md §4.D.1). An
// UNREGISTERED or expired Default-IMPU is treated as absent (point 4): the
// reconciler enforces this itself rather than relying on any one tier's own
// TTL-expiry behavior, since a remote tier isn't guaranteed to share the
// local tier's eager-eviction accident.
func (r *Reconciler) GetIRS(ctx context.Context, impu string) (*model.IRS, error) {
	rec, err := r.getIMPURecord(ctx, impu)
	if err != nil {
		return nil, err
	}
	if rec.Kind == model.KindAssociatedIMPU {
		defaultRec, err := r.getIMPURecord(ctx, rec.DefaultIMPU)
		if err != nil {
			return nil, err
		}
		rec = defaultRec
	}
	if rec.Kind != model.KindDefaultIMPU {
		return nil, ErrNotFound
	}
	if rec.RegState == model.RegUnregistered || rec.Expired(time.Now().Unix()) {
		return nil, ErrNotFound
	}
	return model.NewIRS(rec), nil
}

// getIMPURecord reads the impu table, trying local first then each remote
// in order, so a read never fails just because the local tier is cold.
func (r *Reconciler) getIMPURecord(ctx context.Context, impu string) (*model.Record, error) {
	var lastErr error
	for _, tier := range r.tiers() {
		rec, err := tier.GetIMPU(ctx, impu)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, impustore.ErrNotFound) {
			lastErr = ErrNotFound
			continue
		}
		lastErr = err
	}
	if errors.Is(lastErr, ErrNotFound) || lastErr == nil {
		return nil, ErrNotFound
	}
	return nil, lastErr
}

// GetIRSsForIMPIs composes the IRSs reachable from each private identity in
// impis, via its IMPI-Mapping record. Mirrors BaseHssCache::
// get_implicit_registration_sets_for_impis (original_source/src/
// base_hss_cache.cpp): per-identity NOT_FOUND is suppressed, any other
// error fails the whole call.
func (r *Reconciler) GetIRSsForIMPIs(ctx context.Context, impis []string) ([]*model.IRS, error) {
	seen := make(map[string]struct{})
	var out []*model.IRS
	for _, impi := range impis {
		mapping, err := r.getIMPIMappingRecord(ctx, impi)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, &LookupError{Identity: impi, Err: err}
		}
		for _, impu := range mapping.DefaultIMPUs {
			if _, ok := seen[impu]; ok {
				continue
			}
			irs, err := r.GetIRS(ctx, impu)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, &LookupError{Identity: impu, Err: err}
			}
			seen[impu] = struct{}{}
			out = append(out, irs)
		}
	}
	return out, nil
}

// GetIRSsForIMPUs composes the distinct IRSs reachable from each public
// identity in impus. Mirrors BaseHssCache::
// get_implicit_registration_sets_for_impus.
func (r *Reconciler) GetIRSsForIMPUs(ctx context.Context, impus []string) ([]*model.IRS, error) {
	seen := make(map[string]struct{})
	var out []*model.IRS
	for _, impu := range impus {
		irs, err := r.GetIRS(ctx, impu)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, &LookupError{Identity: impu, Err: err}
		}
		if _, ok := seen[irs.IMPU()]; ok {
			continue
		}
		seen[irs.IMPU()] = struct{}{}
		out = append(out, irs)
	}
	return out, nil
}

func (r *Reconciler) getIMPIMappingRecord(ctx context.Context, impi string) (*model.Record, error) {
	var lastErr error = ErrNotFound
	for _, tier := range r.tiers() {
		rec, err := tier.GetIMPIMapping(ctx, impi)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, impustore.ErrNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}

// PutIRS writes irs's Default-IMPU record plus the Associated-IMPU and
// IMPI-Mapping index records it implies, local tier first and synchronously,
// then every remote tier, each with its own CAS-retry budget (spec.md
// §4.D.2):
//  1. read the current Default-IMPU record (if any) to diff against
//  2. CAS-write the new Default-IMPU record (charging addresses included),
//     retrying on contention
//  3. add/remove Associated-IMPU index records for the diffed set
//  4. add/remove this IMPU from the IMPI-Mapping record of each diffed IMPI
//
// PutIRS does no separate charging-address broadcast; that is
// BroadcastChargingAddresses.
//
// Only a local-tier failure is returned to the caller. Once the local write
// commits, progress (if non-nil) fires and every remote tier is then written
// concurrently via errgroup; a remote failure is logged and otherwise
// ignored (spec.md §4.D.2, §4.D.5, §7 - "local state wins"), matching the
// bounded fan-out style of internal/signaling/drain/coordinator.go.
func (r *Reconciler) PutIRS(ctx context.Context, irs *model.IRS, progress func()) error {
	if err := r.putIRSOnTier(ctx, r.local, irs); err != nil {
		return err
	}
	if progress != nil {
		progress()
	}
	r.fanOutRemotes(ctx, func(ctx context.Context, tier *impustore.Store) error {
		return r.putIRSOnTier(ctx, tier, irs)
	})
	return nil
}

func (r *Reconciler) putIRSOnTier(ctx context.Context, tier *impustore.Store, irs *model.IRS) error {
	current, err := tier.GetIMPU(ctx, irs.IMPU())
	var expectedCAS uint64
	var prevAssociated, prevIMPIs []string
	switch {
	case err == nil && current.Kind == model.KindDefaultIMPU:
		expectedCAS = current.CASToken
		prevAssociated = current.AssociatedIMPUs
		prevIMPIs = current.IMPIs
	case err != nil && !errors.Is(err, impustore.ErrNotFound):
		return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: err}
	}

	var writeErr error
	for attempt := 0; attempt < r.cfg.CASRetries; attempt++ {
		_, err := tier.SetIMPU(ctx, irs.Default, expectedCAS, r.cfg.DefaultTTL)
		if err == nil {
			writeErr = nil
			break
		}
		if !errors.Is(err, impustore.ErrContention) {
			return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: err}
		}
		writeErr = ErrContentionExhausted
		refreshed, rerr := tier.GetIMPU(ctx, irs.IMPU())
		if rerr != nil && !errors.Is(rerr, impustore.ErrNotFound) {
			return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: rerr}
		}
		if rerr == nil {
			expectedCAS = refreshed.CASToken
		} else {
			expectedCAS = 0
		}
	}
	if writeErr != nil {
		return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: writeErr}
	}

	addedAssoc, removedAssoc := model.SetDiff(prevAssociated, irs.AssociatedIMPUs())
	for _, impu := range addedAssoc {
		if err := r.setAssociatedIMPU(ctx, tier, impu, irs.IMPU(), irs.Default.Expiry); err != nil {
			return err
		}
	}
	for _, impu := range removedAssoc {
		if err := tier.DeleteIMPU(ctx, impu, 0); err != nil && !errors.Is(err, impustore.ErrNotFound) {
			return &WriteError{Table: "impu", Key: impu, Store: string(tier.ID()), Err: err}
		}
	}

	addedIMPIs, removedIMPIs := model.SetDiff(prevIMPIs, irs.IMPIs())
	for _, impi := range addedIMPIs {
		if err := r.addIMPUToMapping(ctx, tier, impi, irs.IMPU()); err != nil {
			return err
		}
	}
	for _, impi := range removedIMPIs {
		if err := r.removeIMPUFromMapping(ctx, tier, impi, irs.IMPU()); err != nil {
			return err
		}
	}

	return nil
}

// setAssociatedIMPU implements spec.md §4.D.2 step 4's three-way branch for
// one newly-associated IMPU: create it if the key is absent or holds an
// expired record; steal it (unconditional overwrite) if it's an
// Associated-IMPU pointing at a different default, since the default record
// just written is authoritative; refuse silently, logging, if it's already
// someone else's Default-IMPU.
func (r *Reconciler) setAssociatedIMPU(ctx context.Context, tier *impustore.Store, impu, defaultIMPU string, expiry int64) error {
	existing, err := tier.GetIMPU(ctx, impu)
	rec := model.NewAssociatedIMPU(impu, defaultIMPU, expiry)

	switch {
	case err != nil && errors.Is(err, impustore.ErrNotFound):
		if _, err := tier.SetIMPU(ctx, rec, 0, r.cfg.DefaultTTL); err != nil && !errors.Is(err, impustore.ErrContention) {
			return &WriteError{Table: "impu", Key: impu, Store: string(tier.ID()), Err: err}
		}
	case err != nil:
		return &WriteError{Table: "impu", Key: impu, Store: string(tier.ID()), Err: err}
	case existing.Expired(time.Now().Unix()):
		if _, err := tier.SetIMPU(ctx, rec, 0, r.cfg.DefaultTTL); err != nil && !errors.Is(err, impustore.ErrContention) {
			return &WriteError{Table: "impu", Key: impu, Store: string(tier.ID()), Err: err}
		}
	case existing.Kind == model.KindDefaultIMPU:
		r.log.Info("declined associated-impu steal of another subscriber's default record",
			"impu", impu, "wanted_default", defaultIMPU, "store", tier.ID())
	default:
		// Associated-IMPU for a different (or stale-but-live) default: the
		// legal "steal" - overwrite unconditionally.
		if _, err := tier.SetIMPUWithoutCAS(ctx, rec, r.cfg.DefaultTTL); err != nil {
			return &WriteError{Table: "impu", Key: impu, Store: string(tier.ID()), Err: err}
		}
	}
	return nil
}

func (r *Reconciler) addIMPUToMapping(ctx context.Context, tier *impustore.Store, impi, impu string) error {
	for attempt := 0; attempt < r.cfg.CASRetries; attempt++ {
		existing, err := tier.GetIMPIMapping(ctx, impi)
		var expectedCAS uint64
		var impus []string
		if err == nil {
			expectedCAS = existing.CASToken
			impus = existing.DefaultIMPUs
		} else if !errors.Is(err, impustore.ErrNotFound) {
			return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: err}
		}
		rec := model.NewIMPIMapping(impi, append(append([]string(nil), impus...), impu), 0)
		if _, err := tier.SetIMPIMapping(ctx, rec, expectedCAS, r.cfg.DefaultTTL); err != nil {
			if errors.Is(err, impustore.ErrContention) {
				continue
			}
			return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: err}
		}
		return nil
	}
	return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: ErrContentionExhausted}
}

func (r *Reconciler) removeIMPUFromMapping(ctx context.Context, tier *impustore.Store, impi, impu string) error {
	for attempt := 0; attempt < r.cfg.CASRetries; attempt++ {
		existing, err := tier.GetIMPIMapping(ctx, impi)
		if errors.Is(err, impustore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: err}
		}
		var remaining []string
		for _, v := range existing.DefaultIMPUs {
			if v != impu {
				remaining = append(remaining, v)
			}
		}
		if len(remaining) == 0 {
			if err := tier.DeleteIMPIMapping(ctx, impi, existing.CASToken); err != nil {
				if errors.Is(err, impustore.ErrContention) {
					continue
				}
				if errors.Is(err, impustore.ErrNotFound) {
					return nil
				}
				return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: err}
			}
			return nil
		}
		rec := model.NewIMPIMapping(impi, remaining, 0)
		if _, err := tier.SetIMPIMapping(ctx, rec, existing.CASToken, r.cfg.DefaultTTL); err != nil {
			if errors.Is(err, impustore.ErrContention) {
				continue
			}
			return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: err}
		}
		return nil
	}
	return &WriteError{Table: "impi_mapping", Key: impi, Store: string(tier.ID()), Err: ErrContentionExhausted}
}

// BroadcastChargingAddresses unconditionally overwrites the charging
// addresses on every IRS in subscription across every tier, so a stale
// reader converges without needing a CAS round-trip (spec.md §4.D.2 step
// 6, and ImsSubscription::set_charging_addrs).
func (r *Reconciler) BroadcastChargingAddresses(ctx context.Context, sub *model.IMSSubscription, addrs model.ChargingAddresses) error {
	sub.SetChargingAddresses(addrs)
	for _, tier := range r.tiers() {
		for _, irs := range sub.IRSs {
			if _, err := tier.SetIMPUWithoutCAS(ctx, irs.Default, r.cfg.DefaultTTL); err != nil {
				return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: err}
			}
		}
	}
	return nil
}

// DeleteIRS removes irs's Default-IMPU record and every index record it
// owns (Associated-IMPUs, and this IMPU's entry in each IMPI-Mapping), local
// tier first and synchronously, then every remote tier, mirroring PutIRS's
// local-wins sequencing: only a local-tier failure is returned, progress (if
// non-nil) fires once the local delete commits, and remote failures are
// logged rather than propagated.
func (r *Reconciler) DeleteIRS(ctx context.Context, irs *model.IRS, progress func()) error {
	if err := r.deleteIRSOnTier(ctx, r.local, irs); err != nil {
		return err
	}
	if progress != nil {
		progress()
	}
	r.fanOutRemotes(ctx, func(ctx context.Context, tier *impustore.Store) error {
		return r.deleteIRSOnTier(ctx, tier, irs)
	})
	return nil
}

func (r *Reconciler) deleteIRSOnTier(ctx context.Context, tier *impustore.Store, irs *model.IRS) error {
	for _, assoc := range irs.AssociatedIMPUs() {
		if err := tier.DeleteIMPU(ctx, assoc, 0); err != nil && !errors.Is(err, impustore.ErrNotFound) {
			return &WriteError{Table: "impu", Key: assoc, Store: string(tier.ID()), Err: err}
		}
	}
	for _, impi := range irs.IMPIs() {
		if err := r.removeIMPUFromMapping(ctx, tier, impi, irs.IMPU()); err != nil {
			return err
		}
	}
	if err := tier.DeleteIMPU(ctx, irs.IMPU(), 0); err != nil && !errors.Is(err, impustore.ErrNotFound) {
		return &WriteError{Table: "impu", Key: irs.IMPU(), Store: string(tier.ID()), Err: err}
	}
	return nil
}

// DeleteIRSs deletes every IRS in irss, stopping at the first error.
// progress, if non-nil, fires once per IRS as its local delete commits.
func (r *Reconciler) DeleteIRSs(ctx context.Context, irss []*model.IRS, progress func()) error {
	for _, irs := range irss {
		if err := r.DeleteIRS(ctx, irs, progress); err != nil {
			return err
		}
	}
	return nil
}

// GetIMSSubscription assembles the full subscription reachable from impi
// (supplemental, recovered from original_source/include/ims_subscription.h).
func (r *Reconciler) GetIMSSubscription(ctx context.Context, impi string) (*model.IMSSubscription, error) {
	irss, err := r.GetIRSsForIMPIs(ctx, []string{impi})
	if err != nil {
		return nil, err
	}
	return &model.IMSSubscription{IMPI: impi, IRSs: irss}, nil
}

// PutIMSSubscription writes every IRS in sub back out. progress, if
// non-nil, fires once per IRS as its local write commits.
func (r *Reconciler) PutIMSSubscription(ctx context.Context, sub *model.IMSSubscription, progress func()) error {
	for _, irs := range sub.IRSs {
		if err := r.PutIRS(ctx, irs, progress); err != nil {
			return err
		}
	}
	return nil
}
