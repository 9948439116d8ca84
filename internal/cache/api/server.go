// Package api is the thin HTTP front-end: it decodes a reg-data request,
// hands it to the HSS Orchestrator, and encodes the response. No cache or
// HSS logic lives here (spec.md: the HTTP protocol itself is out-of-core).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metaswitch/homestead-cache/internal/cache/hss"
	"github.com/metaswitch/homestead-cache/internal/cache/stats"
)

// Server is the cache engine's HTTP API: reg-data requests plus health and
// stats endpoints.
type Server struct {
	httpServer   *http.Server
	orchestrator *hss.Orchestrator
	stats        *stats.Registry
	log          *slog.Logger
}

// New builds a Server listening on addr, delegating reg-data requests to
// orchestrator.
func New(addr string, orchestrator *hss.Orchestrator, st *stats.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{orchestrator: orchestrator, stats: st, log: log}
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/impu/", s.handleRegData)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats.Snapshot())
}

// requestBody is the decoded form of a reg-data PUT/GET body.
type requestBody struct {
	ReqType        string `json:"req_type"`
	IMPI           string `json:"impi"`
	ServerName     string `json:"server_name"`
	VisitedNetwork string `json:"visited_network"`
	ServiceProfile string `json:"service_profile,omitempty"`
}

type responseBody struct {
	RegState       string `json:"reg_state,omitempty"`
	ServiceProfile string `json:"service_profile,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleRegData serves /api/v1/impu/{impu}/reg-data, the Sh/Cx-facing
// reg-data endpoint. GET is a cache-only read; PUT carries a req_type body
// selecting one of the Orchestrator's write-path request types.
func (s *Server) handleRegData(w http.ResponseWriter, r *http.Request) {
	impu, ok := parseIMPU(r.URL.Path)
	if !ok {
		http.Error(w, "bad request path", http.StatusBadRequest)
		return
	}

	var body requestBody
	reqType := hss.RequestGetRegData
	if r.Method == http.MethodPut {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		rt, err := parseRequestType(body.ReqType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqType = rt
	} else if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trail := "trail-" + uuid.New().String()
	resp, err := s.orchestrator.Handle(r.Context(), hss.RegDataRequest{
		Type:           reqType,
		IMPI:           body.IMPI,
		IMPU:           impu,
		ServerName:     body.ServerName,
		VisitedNetwork: body.VisitedNetwork,
		ServiceProfile: body.ServiceProfile,
	})
	if err != nil {
		s.log.Error("reg-data request failed", "trail", trail, "impu", impu, "type", reqType.String(), "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Debug("reg-data request handled", "trail", trail, "impu", impu, "type", reqType.String(), "result", resp.Result.String())

	status := hss.StatusForResult(resp.Result)
	out := responseBody{}
	if resp.IRS != nil {
		out.RegState = resp.IRS.Default.RegState.String()
		out.ServiceProfile = resp.IRS.Default.ServiceProfile
	} else if resp.ServiceProfile != nil {
		out.ServiceProfile = resp.ServiceProfile.XML
	}
	if status >= 400 {
		out.Error = resp.Result.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func parseIMPU(path string) (string, bool) {
	const prefix = "/api/v1/impu/"
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/reg-data")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", false
	}
	return rest, true
}

func parseRequestType(s string) (hss.RequestType, error) {
	switch strings.ToUpper(s) {
	case "", "GET_REG_DATA":
		return hss.RequestGetRegData, nil
	case "REGISTRATION":
		return hss.RequestRegistration, nil
	case "RE_REGISTRATION":
		return hss.RequestReRegistration, nil
	case "UNREGISTERED_USER":
		return hss.RequestUnregisteredUser, nil
	case "DEREGISTRATION":
		return hss.RequestDeregistration, nil
	case "PUSH_PROFILE":
		return hss.RequestPushProfile, nil
	default:
		return 0, fmt.Errorf("api: unknown req_type %q", s)
	}
}
