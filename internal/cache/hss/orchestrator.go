package hss

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/metaswitch/homestead-cache/internal/cache/model"
	"github.com/metaswitch/homestead-cache/internal/cache/processor"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
)

// RequestType discriminates the six request shapes the HTTP front-end maps
// onto the Orchestrator, following Cx/Sh semantics (spec.md §4.F).
type RequestType int

const (
	RequestGetRegData RequestType = iota
	RequestRegistration
	RequestReRegistration
	RequestUnregisteredUser
	RequestDeregistration
	RequestPushProfile
)

func (t RequestType) String() string {
	switch t {
	case RequestGetRegData:
		return "GET_REG_DATA"
	case RequestRegistration:
		return "REGISTRATION"
	case RequestReRegistration:
		return "RE_REGISTRATION"
	case RequestUnregisteredUser:
		return "UNREGISTERED_USER"
	case RequestDeregistration:
		return "DEREGISTRATION"
	case RequestPushProfile:
		return "PUSH_PROFILE"
	default:
		return "UNKNOWN"
	}
}

// RegDataRequest is the decoded form of an incoming reg-data request.
type RegDataRequest struct {
	Type           RequestType
	IMPI           string
	IMPU           string
	ServerName     string
	VisitedNetwork string
	// ServiceProfile carries the new profile for PUSH_PROFILE; every other
	// request type ignores it.
	ServiceProfile string
}

// RegDataResponse is what the Orchestrator hands back to the HTTP layer.
type RegDataResponse struct {
	IRS            *model.IRS
	ServiceProfile *ServiceProfile
	Result         ResultCode
}

// Orchestrator maps each RequestType to a cache-vs-HSS decision, then maps
// the resulting ResultCode to an HTTP status for the front-end to return.
type Orchestrator struct {
	proc *processor.Processor
	conn Connection
	log  *slog.Logger
}

// New builds an Orchestrator calling through proc for cache access and
// conn for HSS access.
func New(proc *processor.Processor, conn Connection, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{proc: proc, conn: conn, log: log}
}

// Handle dispatches req to the appropriate request-type handler.
func (o *Orchestrator) Handle(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	switch req.Type {
	case RequestGetRegData:
		return o.handleGet(ctx, req)
	case RequestRegistration:
		return o.handleRegistration(ctx, req)
	case RequestReRegistration:
		return o.handleReRegistration(ctx, req)
	case RequestUnregisteredUser:
		return o.handleUnregisteredUser(ctx, req)
	case RequestDeregistration:
		return o.handleDeregistration(ctx, req)
	case RequestPushProfile:
		return o.handlePushProfile(ctx, req)
	default:
		return nil, errors.New("hss: unknown request type")
	}
}

// handleGet serves purely from cache: a GET never contacts the HSS,
// mirroring Homestead's cache-first reg-data read path. A cache miss is
// reported as ResultNotFound so the caller 404s rather than silently
// fetching from the HSS on a plain read.
func (o *Orchestrator) handleGet(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	irs, err := o.syncGetIRS(req.IMPU)
	if err != nil {
		if errors.Is(err, reconciler.ErrNotFound) {
			return &RegDataResponse{Result: ResultNotFound}, nil
		}
		return nil, err
	}
	return &RegDataResponse{IRS: irs, Result: ResultSuccess}, nil
}

// handleRegistration always goes to the HSS (a fresh registration must be
// authorized), then writes the resulting IRS into the cache.
func (o *Orchestrator) handleRegistration(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	serverName, profile, rc, err := o.conn.UserAuth(ctx, req.IMPI, req.IMPU, req.VisitedNetwork)
	if err != nil || rc != ResultSuccess {
		return &RegDataResponse{Result: rc}, err
	}
	irs := model.NewIRS(model.NewDefaultIMPU(req.IMPU, nil, []string{req.IMPI}, model.RegRegistered, model.ChargingAddresses{}, profile.XML, 0))
	if err := o.syncPutIRS(irs); err != nil {
		return nil, err
	}
	_ = serverName
	return &RegDataResponse{IRS: irs, ServiceProfile: profile, Result: ResultSuccess}, nil
}

// handleReRegistration serves from cache without an HSS round-trip only
// when spec.md §4.F's RE_REGISTRATION row holds: the cached IRS is
// REGISTERED, req.IMPI is already one of its bound private identities, and
// its TTL hasn't expired. Any other case (no cached IRS, wrong reg-state,
// an unbound IMPI, or an expired record) falls back to REGISTRATION
// behavior - a fresh HSS authorization. req.ServiceProfile (an HTTP-request
// field, not part of this decision) plays no role here; it is unrelated to
// spec.md §9's open question, which is about the HSS *answer* coming back
// with an empty service profile - handled below by reusing the cached
// profile when that happens.
func (o *Orchestrator) handleReRegistration(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	cached, err := o.syncGetIRS(req.IMPU)
	if err != nil && !errors.Is(err, reconciler.ErrNotFound) {
		return nil, err
	}
	cacheHit := err == nil &&
		cached.Default.RegState == model.RegRegistered &&
		containsString(cached.Default.IMPIs, req.IMPI) &&
		!cached.Default.Expired(time.Now().Unix())
	if cacheHit {
		return &RegDataResponse{IRS: cached, Result: ResultSuccess}, nil
	}

	serverName, profile, rc, err := o.conn.UserAuth(ctx, req.IMPI, req.IMPU, req.VisitedNetwork)
	if err != nil || rc != ResultSuccess {
		return &RegDataResponse{Result: rc}, err
	}
	profileXML := profile.XML
	if profileXML == "" && cached != nil {
		// spec.md §9 open question: HSS answered SUCCESS with an empty
		// service profile - reuse the cached profile rather than blank it.
		profileXML = cached.Default.ServiceProfile
	}
	newIRS := model.NewIRS(model.NewDefaultIMPU(req.IMPU, nil, []string{req.IMPI}, model.RegRegistered, model.ChargingAddresses{}, profileXML, 0))
	if err := o.syncPutIRS(newIRS); err != nil {
		return nil, err
	}
	_ = serverName
	return &RegDataResponse{IRS: newIRS, ServiceProfile: &ServiceProfile{XML: profileXML}, Result: ResultSuccess}, nil
}

// containsString reports whether s appears in vs.
func containsString(vs []string, s string) bool {
	for _, v := range vs {
		if v == s {
			return true
		}
	}
	return false
}

// handleUnregisteredUser asks the HSS to authorize an unregistered-user
// query (e.g. originating an unregistered service) without ever marking
// the user registered in the cache.
func (o *Orchestrator) handleUnregisteredUser(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	_, profile, rc, err := o.conn.UserAuth(ctx, req.IMPI, req.IMPU, req.VisitedNetwork)
	if err != nil || rc != ResultSuccess {
		return &RegDataResponse{Result: rc}, err
	}
	return &RegDataResponse{ServiceProfile: profile, Result: ResultSuccess}, nil
}

// handleDeregistration notifies the HSS then removes the IRS from cache.
func (o *Orchestrator) handleDeregistration(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	_, rc, err := o.conn.ServerAssignment(ctx, req.IMPI, req.IMPU, req.ServerName, "DEREGISTRATION")
	if err != nil || rc != ResultSuccess {
		return &RegDataResponse{Result: rc}, err
	}
	irs, err := o.syncGetIRS(req.IMPU)
	if err != nil {
		if errors.Is(err, reconciler.ErrNotFound) {
			return &RegDataResponse{Result: ResultSuccess}, nil
		}
		return nil, err
	}
	if err := o.syncDeleteIRS(irs); err != nil {
		return nil, err
	}
	return &RegDataResponse{Result: ResultSuccess}, nil
}

// handlePushProfile applies an HSS-initiated profile update directly to
// the cached IRS, without any further HSS round trip.
func (o *Orchestrator) handlePushProfile(ctx context.Context, req RegDataRequest) (*RegDataResponse, error) {
	irs, err := o.syncGetIRS(req.IMPU)
	if err != nil {
		return nil, err
	}
	irs.Default.ServiceProfile = req.ServiceProfile
	if err := o.syncPutIRS(irs); err != nil {
		return nil, err
	}
	return &RegDataResponse{IRS: irs, Result: ResultSuccess}, nil
}

// StatusForResult maps a ResultCode to the HTTP status the front-end
// should return, mirroring the create_answer mapping in original_source/
// src/hsprov_hss_connection.cpp.
func StatusForResult(rc ResultCode) int {
	switch rc {
	case ResultSuccess:
		return http.StatusOK
	case ResultNotFound:
		return http.StatusNotFound
	case ResultForbidden:
		return http.StatusForbidden
	case ResultTimeout, ResultServerUnavailable, ResultUnknown:
		return http.StatusGatewayTimeout
	default:
		return http.StatusGatewayTimeout
	}
}

// --- synchronous bridges over the async Cache Processor ---
//
// The Orchestrator's own call shape is synchronous (it answers one HTTP
// request at a time), while Processor is callback-based to let many
// requests share the worker pool. These helpers block on a 1-buffered
// channel to adapt one to the other without leaking goroutines.

func (o *Orchestrator) syncGetIRS(impu string) (*model.IRS, error) {
	type result struct {
		irs *model.IRS
		err error
	}
	ch := make(chan result, 1)
	status := o.proc.GetIRS(impu, func(irs *model.IRS, err error) {
		ch <- result{irs, err}
	})
	if status == processor.StatusQueueFull {
		return nil, errors.New("hss: cache processor queue full")
	}
	r := <-ch
	return r.irs, r.err
}

// syncPutIRS blocks until irs has been written to at least the local tier
// (or failed); it doesn't need the progress checkpoint itself; a nil
// progress callback is one of PutIRS's ordinary callers (the HTTP front-end
// has no notion of a mid-request progress event of its own).
func (o *Orchestrator) syncPutIRS(irs *model.IRS) error {
	ch := make(chan error, 1)
	status := o.proc.PutIRS(irs, nil, func(err error) { ch <- err })
	if status == processor.StatusQueueFull {
		return errors.New("hss: cache processor queue full")
	}
	return <-ch
}

func (o *Orchestrator) syncDeleteIRS(irs *model.IRS) error {
	ch := make(chan error, 1)
	status := o.proc.DeleteIRS(irs, nil, func(err error) { ch <- err })
	if status == processor.StatusQueueFull {
		return errors.New("hss: cache processor queue full")
	}
	return <-ch
}
