// Package codec implements the wire-stable Record encoding (spec.md §4.B):
// a single version byte, a varint payload length, and a flate-compressed
// JSON object. Every stored value in the Blob Store begins with this
// header; on decode the record's identity always comes from the caller's
// table/key, never from the payload.
package codec

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"

	"github.com/metaswitch/homestead-cache/internal/cache/model"
)

// VersionCurrent is the only version this codec currently produces.
// Any change to the on-disk layout requires bumping this and updating
// both producers and consumers together (spec.md §6).
const VersionCurrent byte = 0x00

// Decode errors. impustore hands them back to its caller as errors (never
// as not-found), so a corrupt or unknown-version blob surfaces as a failure.
var (
	ErrEmpty            = errors.New("codec: empty payload")
	ErrBadVersion        = errors.New("codec: unrecognized version byte")
	ErrBadLength         = errors.New("codec: payload length exceeds int32 max")
	ErrTruncated         = errors.New("codec: truncated payload")
	ErrDecompressFailed  = errors.New("codec: deflate decompression failed")
	ErrBadJSON           = errors.New("codec: payload is not valid JSON")
	ErrNotObject         = errors.New("codec: decoded JSON is not an object")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireDefaultIMPU / wireAssociatedIMPU / wireIMPIMapping are the exact JSON
// schemas named in spec.md §4.B. Field order in the struct fixes object-key
// order on encode (jsoniter preserves struct field order), which combined
// with sorted arrays gives byte-determinism for logically equal records.
type wireDefaultIMPU struct {
	IMPU            string   `json:"impu"`
	AssociatedIMPUs []string `json:"associated_impus"`
	IMPIs           []string `json:"impis"`
	RegState        int      `json:"reg_state"`
	CCFs            []string `json:"ccfs"`
	ECFs            []string `json:"ecfs"`
	ServiceProfile  string   `json:"service_profile"`
}

type wireAssociatedIMPU struct {
	DefaultIMPU string `json:"default_impu"`
}

type wireIMPIMapping struct {
	DefaultIMPUs []string `json:"default_impus"`
}

// discriminator is decoded first to tell a Default-IMPU payload apart from
// an Associated-IMPU payload stored under the same impu table (spec.md
// §4.B: "presence of default_impu => Associated-IMPU, else Default-IMPU").
type discriminator struct {
	DefaultIMPU *string `json:"default_impu"`
}

// Encode serializes rec's payload into the wire format. Associated-IMPU and
// IMPI-Mapping payloads never carry their key; a Default-IMPU payload
// carries its impu as a schema field, which Decode ignores in favor of the
// caller's key.
func Encode(rec *model.Record) ([]byte, error) {
	var payload any
	switch rec.Kind {
	case model.KindDefaultIMPU:
		payload = wireDefaultIMPU{
			IMPU:            rec.IMPU,
			AssociatedIMPUs: sortedOrEmpty(rec.AssociatedIMPUs),
			IMPIs:           sortedOrEmpty(rec.IMPIs),
			RegState:        int(rec.RegState),
			CCFs:            sortedNoSortOrEmpty(rec.Charging.CCFs),
			ECFs:            sortedNoSortOrEmpty(rec.Charging.ECFs),
			ServiceProfile:  rec.ServiceProfile,
		}
	case model.KindAssociatedIMPU:
		payload = wireAssociatedIMPU{DefaultIMPU: rec.DefaultIMPU}
	case model.KindIMPIMapping:
		payload = wireIMPIMapping{DefaultIMPUs: sortedOrEmpty(rec.DefaultIMPUs)}
	default:
		return nil, fmt.Errorf("codec: unknown record kind %v", rec.Kind)
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	compressed, err := deflate(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}

	if len(compressed) > math.MaxInt32 {
		return nil, ErrBadLength
	}

	out := make([]byte, 0, 1+5+len(compressed))
	out = append(out, VersionCurrent)
	out = appendVarbyte(out, uint64(len(compressed)))
	out = append(out, compressed...)
	return out, nil
}

// Decode parses a stored blob back into a Record. table and key come from
// the caller (the store layer), since they are not encoded in the payload.
// kind, for the impu table, is resolved by the discriminator field.
func Decode(data []byte, table, key string) (*model.Record, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	version := data[0]
	if version != VersionCurrent {
		return nil, ErrBadVersion
	}

	length, n, err := readVarbyte(data[1:])
	if err != nil {
		return nil, err
	}
	if length > math.MaxInt32 {
		return nil, ErrBadLength
	}

	rest := data[1+n:]
	if uint64(len(rest)) < length {
		return nil, ErrTruncated
	}
	compressed := rest[:length]

	jsonBytes, err := inflate(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}

	if !json.Valid(jsonBytes) {
		return nil, ErrBadJSON
	}

	trimmed := bytes.TrimSpace(jsonBytes)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	switch table {
	case "impu":
		var disc discriminator
		if err := json.Unmarshal(jsonBytes, &disc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		if disc.DefaultIMPU != nil {
			var w wireAssociatedIMPU
			if err := json.Unmarshal(jsonBytes, &w); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
			}
			return &model.Record{
				Kind:        model.KindAssociatedIMPU,
				IMPU:        key,
				DefaultIMPU: w.DefaultIMPU,
			}, nil
		}
		var w wireDefaultIMPU
		if err := json.Unmarshal(jsonBytes, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		return &model.Record{
			Kind:            model.KindDefaultIMPU,
			IMPU:            key,
			AssociatedIMPUs: model.StringSet(w.AssociatedIMPUs),
			IMPIs:           model.StringSet(w.IMPIs),
			RegState:        model.RegistrationState(w.RegState),
			Charging:        model.ChargingAddresses{CCFs: append([]string(nil), w.CCFs...), ECFs: append([]string(nil), w.ECFs...)},
			ServiceProfile:  w.ServiceProfile,
		}, nil
	case "impi_mapping":
		var w wireIMPIMapping
		if err := json.Unmarshal(jsonBytes, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		return &model.Record{
			Kind:         model.KindIMPIMapping,
			IMPI:         key,
			DefaultIMPUs: model.StringSet(w.DefaultIMPUs),
		}, nil
	default:
		return nil, fmt.Errorf("codec: unknown table %q", table)
	}
}

func sortedOrEmpty(in []string) []string {
	out := model.StringSet(in)
	if out == nil {
		return []string{}
	}
	return out
}

// Charging address sequences are ORDER-SIGNIFICANT (primary/secondary), so
// unlike the other set fields they must not be sorted - only nil-normalized.
func sortedNoSortOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendVarbyte appends v to dst as little-endian base-128 varbytes (high
// bit = continuation), per spec.md §4.B.
func appendVarbyte(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// readVarbyte decodes a varbyte-encoded length from the front of data,
// returning the value and the number of bytes consumed.
func readVarbyte(data []byte) (value uint64, n int, err error) {
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		value |= uint64(b&0x7f) << shift
		n++
		if b&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
		if shift > 63 {
			return 0, 0, ErrBadLength
		}
	}
	return 0, 0, ErrTruncated
}
