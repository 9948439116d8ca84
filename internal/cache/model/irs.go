package model

// IRS is the in-memory Implicit Registration Set: one Default-IMPU record
// plus lookup references to the Associated-IMPU and IMPI-Mapping records it
// implies. The IRS exclusively owns Default; Associated and the IMPI-Mapping
// keys are not loaded eagerly - they live in the store, not in the IRS
// (spec.md §3, "Ownership").
type IRS struct {
	Default *Record
}

// NewIRS wraps a Default-IMPU record as an IRS. Panics if rec is not a
// Default-IMPU - callers are expected to have already discriminated on Kind.
func NewIRS(rec *Record) *IRS {
	if rec.Kind != KindDefaultIMPU {
		panic("model: NewIRS requires a Default-IMPU record")
	}
	return &IRS{Default: rec}
}

// IMPU is the canonical identity for this IRS.
func (s *IRS) IMPU() string { return s.Default.IMPU }

// AssociatedIMPUs returns the default record's associated-identity set.
func (s *IRS) AssociatedIMPUs() []string { return s.Default.AssociatedIMPUs }

// IMPIs returns the default record's private-identity set.
func (s *IRS) IMPIs() []string { return s.Default.IMPIs }

// SetDiff computes elements present in next but not current, and vice
// versa. Used by the Reconciler to compute added/removed associated IMPUs
// and added/removed IMPIs (spec.md §4.D.2 step 2).
func SetDiff(current, next []string) (added, removed []string) {
	curSet := make(map[string]struct{}, len(current))
	for _, v := range current {
		curSet[v] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, v := range next {
		nextSet[v] = struct{}{}
	}

	for _, v := range next {
		if _, ok := curSet[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range current {
		if _, ok := nextSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}

// IMSSubscription is the set of IRSs reachable from one IMPI - supplemental
// type recovered from original_source/include/ims_subscription.h. Used by
// get_ims_subscription/put_ims_subscription (spec.md §4.D.4).
type IMSSubscription struct {
	IMPI string
	IRSs []*IRS
}

// SetChargingAddresses rewrites the charging addresses of every IRS in the
// subscription. Mirrors ImsSubscription::set_charging_addrs in
// original_source/include/ims_subscription.h, left a TODO stub there.
func (s *IMSSubscription) SetChargingAddresses(addrs ChargingAddresses) {
	for _, irs := range s.IRSs {
		irs.Default.Charging = addrs.Clone()
	}
}

// IRSForDefaultIMPU returns the IRS whose default IMPU matches impu, or nil.
// Mirrors ImsSubscription::get_irs_for_default_impu.
func (s *IMSSubscription) IRSForDefaultIMPU(impu string) *IRS {
	for _, irs := range s.IRSs {
		if irs.IMPU() == impu {
			return irs
		}
	}
	return nil
}
