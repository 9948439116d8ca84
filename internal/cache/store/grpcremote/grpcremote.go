// Package grpcremote is the secondary remote Blob Store transport: a thin
// adapter between store.Store and the hand-rolled cachepb/v1 BlobStore gRPC
// service (JSON-coded, see pkg/cachepb/v1/codec.go).
package grpcremote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	cachepbv1 "github.com/metaswitch/homestead-cache/pkg/cachepb/v1"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
)

// Client is a store.Store backed by a remote gRPC BlobStore service.
type Client struct {
	conn   *grpc.ClientConn
	client cachepbv1.BlobStoreClient
}

// Dial connects to a grpcremote server at target (host:port).
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcremote: dial %q: %w", target, err)
	}
	return &Client{conn: conn, client: cachepbv1.NewBlobStoreClient(conn)}, nil
}

func (c *Client) Get(ctx context.Context, table, key string) (store.Result, store.Status, error) {
	resp, err := c.client.Get(ctx, &cachepbv1.GetRequest{Table: table, Key: key})
	if err != nil {
		return store.Result{}, store.StatusError, fmt.Errorf("grpcremote: get: %w", err)
	}
	if !resp.Found {
		return store.Result{}, store.StatusNotFound, nil
	}
	res := store.Result{Value: resp.Value, CASToken: resp.CASToken}
	if resp.ExpiryMS > 0 {
		res.Expiry = time.UnixMilli(resp.ExpiryMS)
	}
	return res, store.StatusOK, nil
}

func (c *Client) Set(ctx context.Context, table, key string, value []byte, expectedCAS uint64, ttl time.Duration) (uint64, store.Status, error) {
	resp, err := c.client.Set(ctx, &cachepbv1.SetRequest{
		Table: table, Key: key, Value: value,
		ExpectedCAS: expectedCAS, TTLMS: ttl.Milliseconds(),
	})
	if err != nil {
		return 0, store.StatusError, fmt.Errorf("grpcremote: set: %w", err)
	}
	if resp.Contention {
		return 0, store.StatusDataContention, store.ErrDataContention
	}
	return resp.NewCAS, store.StatusOK, nil
}

func (c *Client) SetWithoutCAS(ctx context.Context, table, key string, value []byte, ttl time.Duration) (uint64, store.Status, error) {
	resp, err := c.client.Set(ctx, &cachepbv1.SetRequest{
		Table: table, Key: key, Value: value,
		TTLMS: ttl.Milliseconds(), WithoutCAS: true,
	})
	if err != nil {
		return 0, store.StatusError, fmt.Errorf("grpcremote: set-without-cas: %w", err)
	}
	return resp.NewCAS, store.StatusOK, nil
}

func (c *Client) Delete(ctx context.Context, table, key string, expectedCAS uint64) (store.Status, error) {
	resp, err := c.client.Delete(ctx, &cachepbv1.DeleteRequest{Table: table, Key: key, ExpectedCAS: expectedCAS})
	if err != nil {
		return store.StatusError, fmt.Errorf("grpcremote: delete: %w", err)
	}
	if !resp.Found {
		return store.StatusNotFound, nil
	}
	if resp.Contention {
		return store.StatusDataContention, store.ErrDataContention
	}
	return store.StatusOK, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Server adapts a store.Store to the cachepb/v1 BlobStoreServer interface,
// so any existing tier (typically a Local) can be exposed over gRPC.
type Server struct {
	cachepbv1.BlobStoreServer
	backing store.Store
}

// NewServer wraps backing for gRPC exposure.
func NewServer(backing store.Store) *Server {
	return &Server{backing: backing}
}

// Register attaches s to grpcServer using the hand-rolled ServiceDesc.
func Register(grpcServer *grpc.Server, s *Server) {
	cachepbv1.RegisterBlobStoreServer(grpcServer, s)
}

func (s *Server) Get(ctx context.Context, req *cachepbv1.GetRequest) (*cachepbv1.GetResponse, error) {
	res, status, err := s.backing.Get(ctx, req.Table, req.Key)
	if err != nil {
		return nil, err
	}
	if status == store.StatusNotFound {
		return &cachepbv1.GetResponse{Found: false}, nil
	}
	resp := &cachepbv1.GetResponse{Found: true, Value: res.Value, CASToken: res.CASToken}
	if !res.Expiry.IsZero() {
		resp.ExpiryMS = res.Expiry.UnixMilli()
	}
	return resp, nil
}

func (s *Server) Set(ctx context.Context, req *cachepbv1.SetRequest) (*cachepbv1.SetResponse, error) {
	ttl := time.Duration(req.TTLMS) * time.Millisecond
	var newCAS uint64
	var status store.Status
	var err error
	if req.WithoutCAS {
		newCAS, status, err = s.backing.SetWithoutCAS(ctx, req.Table, req.Key, req.Value, ttl)
	} else {
		newCAS, status, err = s.backing.Set(ctx, req.Table, req.Key, req.Value, req.ExpectedCAS, ttl)
	}
	if err != nil && status != store.StatusDataContention {
		return nil, err
	}
	return &cachepbv1.SetResponse{Contention: status == store.StatusDataContention, NewCAS: newCAS}, nil
}

func (s *Server) Delete(ctx context.Context, req *cachepbv1.DeleteRequest) (*cachepbv1.DeleteResponse, error) {
	status, err := s.backing.Delete(ctx, req.Table, req.Key, req.ExpectedCAS)
	if err != nil && status != store.StatusDataContention {
		return nil, err
	}
	return &cachepbv1.DeleteResponse{
		Found:      status != store.StatusNotFound,
		Contention: status == store.StatusDataContention,
	}, nil
}
