// Package hss defines the narrow interface the cache engine uses to reach
// the real HSS when a request cannot be answered from cache, and the
// Orchestrator that decides, per incoming request type, whether the cache
// or the HSS answers it (spec.md §4.E/§4.F). The wire protocol spoken to
// the actual HSS (Diameter/Cx) is out of scope here - Connection is a Go
// interface any transport can implement.
package hss

import "context"

// ResultCode is the outcome of an HSS operation, modeled after the
// coarse-grained result taken from original_source/src/
// hsprov_hss_connection.cpp's per-transaction create_answer methods.
type ResultCode int

const (
	ResultSuccess ResultCode = iota
	ResultNotFound
	ResultForbidden
	ResultTimeout
	ResultServerUnavailable
	ResultUnknown
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultNotFound:
		return "NOT_FOUND"
	case ResultForbidden:
		return "FORBIDDEN"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultServerUnavailable:
		return "SERVER_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ServiceProfile is the XML/opaque service profile document the HSS hands
// back for a subscriber; the cache engine treats it as opaque bytes.
type ServiceProfile struct {
	XML string
}

// AuthVector is the opaque authentication challenge data returned by a
// multimedia-auth request.
type AuthVector struct {
	Data map[string]string
}

// Connection is the narrow collaborator interface the Orchestrator calls
// when a request cannot be satisfied from cache alone.
type Connection interface {
	// MultimediaAuth fetches an auth vector for impi/impu.
	MultimediaAuth(ctx context.Context, impi, impu, authType string) (*AuthVector, ResultCode, error)

	// UserAuth checks impi is authorized to register impu, and returns the
	// server name currently assigned (if any) plus the service profile.
	UserAuth(ctx context.Context, impi, impu, visitedNetwork string) (serverName string, profile *ServiceProfile, rc ResultCode, err error)

	// LocationInfo fetches the S-CSCF name currently serving impu.
	LocationInfo(ctx context.Context, impu string) (serverName string, rc ResultCode, err error)

	// ServerAssignment notifies the HSS of a registration-state change and
	// fetches the associated service profile for impu under impi.
	ServerAssignment(ctx context.Context, impi, impu, serverName, reason string) (*ServiceProfile, ResultCode, error)
}

// StaticConnection is an in-memory Connection fake for tests: results are
// pre-programmed per (impi, impu) pair, mirroring the table-driven fakes
// the original unit tests use.
type StaticConnection struct {
	MultimediaAuthFunc   func(ctx context.Context, impi, impu, authType string) (*AuthVector, ResultCode, error)
	UserAuthFunc         func(ctx context.Context, impi, impu, visitedNetwork string) (string, *ServiceProfile, ResultCode, error)
	LocationInfoFunc     func(ctx context.Context, impu string) (string, ResultCode, error)
	ServerAssignmentFunc func(ctx context.Context, impi, impu, serverName, reason string) (*ServiceProfile, ResultCode, error)
}

func (s *StaticConnection) MultimediaAuth(ctx context.Context, impi, impu, authType string) (*AuthVector, ResultCode, error) {
	if s.MultimediaAuthFunc == nil {
		return nil, ResultNotFound, nil
	}
	return s.MultimediaAuthFunc(ctx, impi, impu, authType)
}

func (s *StaticConnection) UserAuth(ctx context.Context, impi, impu, visitedNetwork string) (string, *ServiceProfile, ResultCode, error) {
	if s.UserAuthFunc == nil {
		return "", nil, ResultNotFound, nil
	}
	return s.UserAuthFunc(ctx, impi, impu, visitedNetwork)
}

func (s *StaticConnection) LocationInfo(ctx context.Context, impu string) (string, ResultCode, error) {
	if s.LocationInfoFunc == nil {
		return "", ResultNotFound, nil
	}
	return s.LocationInfoFunc(ctx, impu)
}

func (s *StaticConnection) ServerAssignment(ctx context.Context, impi, impu, serverName, reason string) (*ServiceProfile, ResultCode, error) {
	if s.ServerAssignmentFunc == nil {
		return nil, ResultNotFound, nil
	}
	return s.ServerAssignmentFunc(ctx, impi, impu, serverName, reason)
}

// ResultFromBackendError maps an arbitrary backend/transport error to a
// ResultCode. Mirrors hsprov_hss_connection.cpp: NOT_FOUND passes through
// unchanged, but every other backend failure is mapped to TIMEOUT "so that
// Homestead returns a 504 rather than leaking an internal error code".
func ResultFromBackendError(notFound bool, err error) ResultCode {
	if err == nil {
		return ResultSuccess
	}
	if notFound {
		return ResultNotFound
	}
	return ResultTimeout
}
