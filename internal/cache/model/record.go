// Package model defines the data types the cache engine stores and
// assembles: the Record variants kept in the Blob Store, and the
// Implicit Registration Set (IRS) built from them in memory.
package model

import "sort"

// Kind discriminates the three Record variants that share the impu/impi_mapping
// key space. There is no inheritance hierarchy here: a Record is a single
// struct with a Kind tag, and callers switch on Kind rather than type-assert.
type Kind int

const (
	KindUnknown Kind = iota
	KindDefaultIMPU
	KindAssociatedIMPU
	KindIMPIMapping
)

func (k Kind) String() string {
	switch k {
	case KindDefaultIMPU:
		return "default_impu"
	case KindAssociatedIMPU:
		return "associated_impu"
	case KindIMPIMapping:
		return "impi_mapping"
	default:
		return "unknown"
	}
}

// RegistrationState mirrors the four states a Default-IMPU record may be in.
type RegistrationState int

const (
	RegNotRegistered RegistrationState = iota
	RegUnregistered
	RegRegistered
	RegUnchanged
)

func (s RegistrationState) String() string {
	switch s {
	case RegNotRegistered:
		return "NOT_REGISTERED"
	case RegUnregistered:
		return "UNREGISTERED"
	case RegRegistered:
		return "REGISTERED"
	case RegUnchanged:
		return "UNCHANGED"
	default:
		return "NOT_REGISTERED"
	}
}

// ChargingAddresses holds the two ordered CCF/ECF server-name sequences
// used by downstream billing. Order is significant (primary first).
type ChargingAddresses struct {
	CCFs []string
	ECFs []string
}

// Clone returns a deep copy, so callers may safely mutate the original.
func (c ChargingAddresses) Clone() ChargingAddresses {
	out := ChargingAddresses{}
	if c.CCFs != nil {
		out.CCFs = append([]string(nil), c.CCFs...)
	}
	if c.ECFs != nil {
		out.ECFs = append([]string(nil), c.ECFs...)
	}
	return out
}

// Origin identifies which Blob Store tier produced a Record, so a record
// read from one store is never accidentally written back to another - CAS
// tokens are only meaningful within the store that issued them.
type Origin struct {
	StoreID string
}

// Record is the tagged union stored as a blob in either the impu or
// impi_mapping table. Exactly one of the variant-specific field groups below
// is meaningful, selected by Kind.
type Record struct {
	Kind Kind

	// Shared header, present for every variant.
	CASToken uint64
	Expiry   int64 // absolute UNIX seconds; 0 means "no expiry set yet"
	Origin   Origin

	// --- Default-IMPU fields ---
	IMPU              string
	AssociatedIMPUs    []string
	IMPIs              []string
	RegState           RegistrationState
	Charging           ChargingAddresses
	ServiceProfile     string

	// --- Associated-IMPU fields ---
	DefaultIMPU string // back-pointer to the owning default

	// --- IMPI-Mapping fields ---
	IMPI         string // the key is also carried here for convenience
	DefaultIMPUs []string
}

// NewDefaultIMPU builds a fresh (cas=0, i.e. create-only) Default-IMPU record.
func NewDefaultIMPU(impu string, associated, impis []string, state RegistrationState, charging ChargingAddresses, serviceProfile string, expiry int64) *Record {
	return &Record{
		Kind:            KindDefaultIMPU,
		IMPU:            impu,
		AssociatedIMPUs: normalizeSet(associated),
		IMPIs:           normalizeSet(impis),
		RegState:        state,
		Charging:        charging.Clone(),
		ServiceProfile:  serviceProfile,
		Expiry:          expiry,
	}
}

// NewAssociatedIMPU builds a fresh Associated-IMPU index record.
func NewAssociatedIMPU(impu, defaultIMPU string, expiry int64) *Record {
	return &Record{
		Kind:        KindAssociatedIMPU,
		IMPU:        impu,
		DefaultIMPU: defaultIMPU,
		Expiry:      expiry,
	}
}

// NewIMPIMapping builds a fresh IMPI-Mapping index record.
func NewIMPIMapping(impi string, defaultIMPUs []string, expiry int64) *Record {
	return &Record{
		Kind:         KindIMPIMapping,
		IMPI:         impi,
		DefaultIMPUs: normalizeSet(defaultIMPUs),
		Expiry:       expiry,
	}
}

// Key returns the (table, key) pair this record belongs under.
func (r *Record) Key() (table, key string) {
	switch r.Kind {
	case KindDefaultIMPU, KindAssociatedIMPU:
		return "impu", r.IMPU
	case KindIMPIMapping:
		return "impi_mapping", r.IMPI
	default:
		return "", ""
	}
}

// Expired reports whether the record's absolute expiry has passed.
// Invariant 6 (spec.md §3): an expired record is semantically absent.
func (r *Record) Expired(now int64) bool {
	return r.Expiry > 0 && r.Expiry <= now
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.AssociatedIMPUs = append([]string(nil), r.AssociatedIMPUs...)
	c.IMPIs = append([]string(nil), r.IMPIs...)
	c.Charging = r.Charging.Clone()
	c.DefaultIMPUs = append([]string(nil), r.DefaultIMPUs...)
	return &c
}

// normalizeSet sorts and de-duplicates a string set, matching the codec's
// deterministic-encoding requirement (spec.md §4.B: "arrays sorted
// lexicographically ... so equal logical records compare byte-equal").
func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// StringSet returns a new sorted, de-duplicated copy of in. Exported for
// callers outside this package (reconciler diffing) that build sets from
// user-supplied slices.
func StringSet(in []string) []string {
	return normalizeSet(in)
}
