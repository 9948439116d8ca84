package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/metaswitch/homestead-cache/internal/cache/model"
)

func TestRoundTripDefaultIMPU(t *testing.T) {
	rec := model.NewDefaultIMPU(
		"sip:alice@example.com",
		[]string{"sip:alice2@example.com", "sip:alice3@example.com"},
		[]string{"alice@example.com"},
		model.RegRegistered,
		model.ChargingAddresses{CCFs: []string{"ccf1", "ccf2"}, ECFs: []string{"ecf1"}},
		"<IMSSubscription/>",
		0,
	)

	blob, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(blob, "impu", rec.IMPU)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Kind != model.KindDefaultIMPU {
		t.Fatalf("Kind = %v, want KindDefaultIMPU", got.Kind)
	}
	if got.IMPU != rec.IMPU {
		t.Errorf("IMPU = %q, want %q", got.IMPU, rec.IMPU)
	}
	if got.ServiceProfile != rec.ServiceProfile {
		t.Errorf("ServiceProfile = %q, want %q", got.ServiceProfile, rec.ServiceProfile)
	}
	if got.RegState != rec.RegState {
		t.Errorf("RegState = %v, want %v", got.RegState, rec.RegState)
	}
	if len(got.AssociatedIMPUs) != len(rec.AssociatedIMPUs) {
		t.Errorf("AssociatedIMPUs = %v, want %v", got.AssociatedIMPUs, rec.AssociatedIMPUs)
	}
	if len(got.Charging.CCFs) != 2 || got.Charging.CCFs[0] != "ccf1" {
		t.Errorf("Charging.CCFs = %v, want order-preserved [ccf1 ccf2]", got.Charging.CCFs)
	}
}

func TestRoundTripAssociatedIMPU(t *testing.T) {
	rec := model.NewAssociatedIMPU("sip:alice2@example.com", "sip:alice@example.com", 0)
	blob, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(blob, "impu", rec.IMPU)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != model.KindAssociatedIMPU {
		t.Fatalf("Kind = %v, want KindAssociatedIMPU", got.Kind)
	}
	if got.DefaultIMPU != rec.DefaultIMPU {
		t.Errorf("DefaultIMPU = %q, want %q", got.DefaultIMPU, rec.DefaultIMPU)
	}
}

func TestRoundTripIMPIMapping(t *testing.T) {
	rec := model.NewIMPIMapping("alice@example.com", []string{"sip:alice@example.com", "sip:alice2@example.com"}, 0)
	blob, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(blob, "impi_mapping", rec.IMPI)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != model.KindIMPIMapping {
		t.Fatalf("Kind = %v, want KindIMPIMapping", got.Kind)
	}
	if len(got.DefaultIMPUs) != 2 {
		t.Errorf("DefaultIMPUs = %v, want 2 entries", got.DefaultIMPUs)
	}
}

func TestEncodeIsDeterministicForEqualLogicalRecords(t *testing.T) {
	// Same logical set, different insertion order - must encode identically
	// since the codec sorts set-valued fields before marshaling.
	rec1 := model.NewDefaultIMPU("sip:a@x.com", []string{"sip:b@x.com", "sip:c@x.com"}, nil, model.RegRegistered, model.ChargingAddresses{}, "", 0)
	rec2 := model.NewDefaultIMPU("sip:a@x.com", []string{"sip:c@x.com", "sip:b@x.com"}, nil, model.RegRegistered, model.ChargingAddresses{}, "", 0)

	blob1, err := Encode(rec1)
	if err != nil {
		t.Fatalf("Encode rec1: %v", err)
	}
	blob2, err := Encode(rec2)
	if err != nil {
		t.Fatalf("Encode rec2: %v", err)
	}
	if !bytes.Equal(blob1, blob2) {
		t.Errorf("equal logical records encoded differently:\n%x\n%x", blob1, blob2)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	_, err := Decode(nil, "impu", "key")
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("Decode(nil) error = %v, want ErrEmpty", err)
	}
}

func TestDecodeBadVersion(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x00}, "impu", "key")
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("Decode error = %v, want ErrBadVersion", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	rec := model.NewAssociatedIMPU("sip:a@x.com", "sip:b@x.com", 0)
	blob, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := blob[:len(blob)-2]
	_, err = Decode(truncated, "impu", "sip:a@x.com")
	if !errors.Is(err, ErrTruncated) && !errors.Is(err, ErrDecompressFailed) {
		t.Fatalf("Decode(truncated) error = %v, want ErrTruncated or ErrDecompressFailed", err)
	}
}

func TestDecodeUnknownTable(t *testing.T) {
	rec := model.NewAssociatedIMPU("sip:a@x.com", "sip:b@x.com", 0)
	blob, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(blob, "nonsense", "sip:a@x.com")
	if err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestVarbyteRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1 << 30}
	for _, v := range values {
		buf := appendVarbyte(nil, v)
		got, n, err := readVarbyte(buf)
		if err != nil {
			t.Fatalf("readVarbyte(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("readVarbyte roundtrip = %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Errorf("readVarbyte consumed %d bytes, want %d", n, len(buf))
		}
	}
}
