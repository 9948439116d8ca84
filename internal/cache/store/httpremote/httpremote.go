// Package httpremote is the primary remote Blob Store transport: a plain
// HTTP+JSON client and handler pair, chosen (alongside grpcremote) so the
// cache engine can reach a replica store tier over the network without
// committing to one RPC framework (spec.md §4.A: "remote stores are an
// interface, not a specific protocol").
package httpremote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/metaswitch/homestead-cache/internal/cache/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type wireResult struct {
	Found    bool   `json:"found"`
	Value    string `json:"value,omitempty"` // base64
	CASToken uint64 `json:"cas_token,omitempty"`
	ExpiryMS int64  `json:"expiry_ms,omitempty"`
}

type wireSetRequest struct {
	Value       string `json:"value"` // base64
	ExpectedCAS uint64 `json:"expected_cas"`
	TTLMS       int64  `json:"ttl_ms,omitempty"`
}

type wireSetResponse struct {
	Contention bool   `json:"contention,omitempty"`
	NewCAS     uint64 `json:"new_cas,omitempty"`
}

type wireDeleteResponse struct {
	Found      bool `json:"found"`
	Contention bool `json:"contention,omitempty"`
}

// Client is a store.Store backed by a remote HTTP server speaking this
// package's wire protocol.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client pointed at baseURL (e.g. "http://host:port").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) endpoint(table, key string) string {
	return fmt.Sprintf("%s/v1/blobs/%s/%s", c.baseURL, url.PathEscape(table), url.PathEscape(key))
}

func (c *Client) Get(ctx context.Context, table, key string) (store.Result, store.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(table, key), nil)
	if err != nil {
		return store.Result{}, store.StatusError, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return store.Result{}, store.StatusError, fmt.Errorf("httpremote: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return store.Result{}, store.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return store.Result{}, store.StatusError, fmt.Errorf("httpremote: get: unexpected status %d", resp.StatusCode)
	}

	var wr wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return store.Result{}, store.StatusError, fmt.Errorf("httpremote: decode: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(wr.Value)
	if err != nil {
		return store.Result{}, store.StatusError, fmt.Errorf("httpremote: decode value: %w", err)
	}
	res := store.Result{Value: value, CASToken: wr.CASToken}
	if wr.ExpiryMS > 0 {
		res.Expiry = time.UnixMilli(wr.ExpiryMS)
	}
	return res, store.StatusOK, nil
}

func (c *Client) doSet(ctx context.Context, table, key string, value []byte, expectedCAS uint64, ttl time.Duration, withoutCAS bool) (uint64, store.Status, error) {
	body, err := json.Marshal(wireSetRequest{
		Value:       base64.StdEncoding.EncodeToString(value),
		ExpectedCAS: expectedCAS,
		TTLMS:       ttl.Milliseconds(),
	})
	if err != nil {
		return 0, store.StatusError, err
	}
	endpoint := c.endpoint(table, key)
	if withoutCAS {
		endpoint += "?cas=false"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, store.StatusError, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, store.StatusError, fmt.Errorf("httpremote: set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return 0, store.StatusDataContention, store.ErrDataContention
	}
	if resp.StatusCode != http.StatusOK {
		return 0, store.StatusError, fmt.Errorf("httpremote: set: unexpected status %d", resp.StatusCode)
	}
	var wr wireSetResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return 0, store.StatusError, fmt.Errorf("httpremote: decode: %w", err)
	}
	return wr.NewCAS, store.StatusOK, nil
}

func (c *Client) Set(ctx context.Context, table, key string, value []byte, expectedCAS uint64, ttl time.Duration) (uint64, store.Status, error) {
	return c.doSet(ctx, table, key, value, expectedCAS, ttl, false)
}

func (c *Client) SetWithoutCAS(ctx context.Context, table, key string, value []byte, ttl time.Duration) (uint64, store.Status, error) {
	return c.doSet(ctx, table, key, value, 0, ttl, true)
}

func (c *Client) Delete(ctx context.Context, table, key string, expectedCAS uint64) (store.Status, error) {
	endpoint := fmt.Sprintf("%s?expected_cas=%d", c.endpoint(table, key), expectedCAS)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return store.StatusError, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return store.StatusError, fmt.Errorf("httpremote: delete: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return store.StatusOK, nil
	case http.StatusNotFound:
		return store.StatusNotFound, nil
	case http.StatusConflict:
		return store.StatusDataContention, store.ErrDataContention
	default:
		return store.StatusError, fmt.Errorf("httpremote: delete: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Handler exposes a backing store.Store over HTTP using this package's
// wire protocol. Mount it at "/v1/blobs/" on a *http.ServeMux.
type Handler struct {
	backing store.Store
}

// NewHandler wraps backing for HTTP exposure.
func NewHandler(backing store.Store) *Handler {
	return &Handler{backing: backing}
}

func (h *Handler) parsePath(r *http.Request) (table, key string, ok bool) {
	// path shape: /v1/blobs/{table}/{key}
	const prefix = "/v1/blobs/"
	trimmed := r.URL.Path[len(prefix):]
	idx := bytes.IndexByte([]byte(trimmed), '/')
	if idx < 0 {
		return "", "", false
	}
	table, err1 := url.PathUnescape(trimmed[:idx])
	key, err2 := url.PathUnescape(trimmed[idx+1:])
	if err1 != nil || err2 != nil || table == "" || key == "" {
		return "", "", false
	}
	return table, key, true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table, key, ok := h.parsePath(r)
	if !ok {
		http.Error(w, "bad request path", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		res, status, err := h.backing.Get(r.Context(), table, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if status == store.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		wr := wireResult{Found: true, Value: base64.StdEncoding.EncodeToString(res.Value), CASToken: res.CASToken}
		if !res.Expiry.IsZero() {
			wr.ExpiryMS = res.Expiry.UnixMilli()
		}
		writeJSON(w, http.StatusOK, wr)

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req wireSetRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		value, err := base64.StdEncoding.DecodeString(req.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ttl := time.Duration(req.TTLMS) * time.Millisecond

		var newCAS uint64
		var status store.Status
		if r.URL.Query().Get("cas") == "false" {
			newCAS, status, err = h.backing.SetWithoutCAS(r.Context(), table, key, value, ttl)
		} else {
			newCAS, status, err = h.backing.Set(r.Context(), table, key, value, req.ExpectedCAS, ttl)
		}
		if err != nil && status != store.StatusDataContention {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if status == store.StatusDataContention {
			writeJSON(w, http.StatusConflict, wireSetResponse{Contention: true})
			return
		}
		writeJSON(w, http.StatusOK, wireSetResponse{NewCAS: newCAS})

	case http.MethodDelete:
		var expectedCAS uint64
		fmt.Sscanf(r.URL.Query().Get("expected_cas"), "%d", &expectedCAS)
		status, err := h.backing.Delete(r.Context(), table, key, expectedCAS)
		if err != nil && status != store.StatusDataContention {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		switch status {
		case store.StatusNotFound:
			http.NotFound(w, r)
		case store.StatusDataContention:
			writeJSON(w, http.StatusConflict, wireDeleteResponse{Found: true, Contention: true})
		default:
			writeJSON(w, http.StatusOK, wireDeleteResponse{Found: true})
		}

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
