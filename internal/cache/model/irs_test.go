package model

import (
	"reflect"
	"sort"
	"testing"
)

func TestSetDiff(t *testing.T) {
	cases := []struct {
		name            string
		current, next   []string
		wantAdded       []string
		wantRemoved     []string
	}{
		{"no change", []string{"a", "b"}, []string{"a", "b"}, nil, nil},
		{"one added", []string{"a"}, []string{"a", "b"}, []string{"b"}, nil},
		{"one removed", []string{"a", "b"}, []string{"a"}, nil, []string{"b"}},
		{"disjoint", []string{"a"}, []string{"b"}, []string{"b"}, []string{"a"}},
		{"both empty", nil, nil, nil, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			added, removed := SetDiff(c.current, c.next)
			sort.Strings(added)
			sort.Strings(removed)
			if !reflect.DeepEqual(added, c.wantAdded) {
				t.Errorf("added = %v, want %v", added, c.wantAdded)
			}
			if !reflect.DeepEqual(removed, c.wantRemoved) {
				t.Errorf("removed = %v, want %v", removed, c.wantRemoved)
			}
		})
	}
}

func TestIMSSubscriptionSetChargingAddresses(t *testing.T) {
	irs1 := NewIRS(NewDefaultIMPU("sip:a@x.com", nil, nil, RegRegistered, ChargingAddresses{}, "", 0))
	irs2 := NewIRS(NewDefaultIMPU("sip:b@x.com", nil, nil, RegRegistered, ChargingAddresses{}, "", 0))
	sub := &IMSSubscription{IMPI: "alice@x.com", IRSs: []*IRS{irs1, irs2}}

	addrs := ChargingAddresses{CCFs: []string{"ccf1", "ccf2"}, ECFs: []string{"ecf1"}}
	sub.SetChargingAddresses(addrs)

	for _, irs := range sub.IRSs {
		if !reflect.DeepEqual(irs.Default.Charging.CCFs, addrs.CCFs) {
			t.Errorf("IRS %s: CCFs = %v, want %v", irs.IMPU(), irs.Default.Charging.CCFs, addrs.CCFs)
		}
	}
}

func TestIMSSubscriptionIRSForDefaultIMPU(t *testing.T) {
	irs1 := NewIRS(NewDefaultIMPU("sip:a@x.com", nil, nil, RegRegistered, ChargingAddresses{}, "", 0))
	irs2 := NewIRS(NewDefaultIMPU("sip:b@x.com", nil, nil, RegRegistered, ChargingAddresses{}, "", 0))
	sub := &IMSSubscription{IRSs: []*IRS{irs1, irs2}}

	if got := sub.IRSForDefaultIMPU("sip:b@x.com"); got != irs2 {
		t.Errorf("IRSForDefaultIMPU(sip:b@x.com) = %v, want %v", got, irs2)
	}
	if got := sub.IRSForDefaultIMPU("sip:missing@x.com"); got != nil {
		t.Errorf("IRSForDefaultIMPU(missing) = %v, want nil", got)
	}
}

func TestNewIRSPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-Default-IMPU record")
		}
	}()
	NewIRS(NewAssociatedIMPU("sip:a@x.com", "sip:b@x.com", 0))
}
