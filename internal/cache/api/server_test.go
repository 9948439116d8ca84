package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metaswitch/homestead-cache/internal/cache/hss"
	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/processor"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
	"github.com/metaswitch/homestead-cache/internal/cache/stats"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
	"github.com/metaswitch/homestead-cache/internal/cache/workerpool"
)

func newTestServer(t *testing.T, conn hss.Connection) *Server {
	t.Helper()
	local, err := store.NewLocal(":memory:")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })

	r := reconciler.New(impustore.New("local", local), nil, reconciler.Config{CASRetries: 5}, nil)
	pool := workerpool.New(2, 8, nil)
	t.Cleanup(pool.Stop)
	st := stats.New()
	proc := processor.New(pool, r, st, nil)
	orch := hss.New(proc, conn, nil)
	return New(":0", orch, st, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &hss.StaticConnection{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "OK" {
		t.Errorf("status field = %q, want OK", body["status"])
	}
}

func TestHandleRegDataGetMiss(t *testing.T) {
	s := newTestServer(t, &hss.StaticConnection{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/impu/sip:nobody@x.com/reg-data", nil)

	s.handleRegData(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegDataPutRegistrationThenGet(t *testing.T) {
	conn := &hss.StaticConnection{
		UserAuthFunc: func(ctx context.Context, impi, impu, visitedNetwork string) (string, *hss.ServiceProfile, hss.ResultCode, error) {
			return "homestead-cache", &hss.ServiceProfile{XML: "<profile/>"}, hss.ResultSuccess, nil
		},
	}
	s := newTestServer(t, conn)

	body, _ := json.Marshal(requestBody{
		ReqType: "REGISTRATION",
		IMPI:    "alice@x.com",
	})
	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/impu/sip:alice@x.com/reg-data", bytes.NewReader(body))
	putRec := httptest.NewRecorder()
	s.handleRegData(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200, body=%s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/impu/sip:alice@x.com/reg-data", nil)
	getRec := httptest.NewRecorder()
	s.handleRegData(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", getRec.Code, getRec.Body.String())
	}
	var out responseBody
	if err := json.Unmarshal(getRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ServiceProfile != "<profile/>" {
		t.Errorf("ServiceProfile = %q, want <profile/>", out.ServiceProfile)
	}
}

func TestHandleRegDataBadPath(t *testing.T) {
	s := newTestServer(t, &hss.StaticConnection{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/impu//reg-data", nil)

	s.handleRegData(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRegDataMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &hss.StaticConnection{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/impu/sip:alice@x.com/reg-data", nil)

	s.handleRegData(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestParseRequestTypeUnknown(t *testing.T) {
	if _, err := parseRequestType("NOT_A_TYPE"); err == nil {
		t.Fatal("expected error for unknown req_type")
	}
}
