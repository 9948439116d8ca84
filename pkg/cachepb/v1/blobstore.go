// Package cachepbv1 defines the gRPC BlobStore service used by the
// secondary remote-store transport (internal/cache/store/grpcremote). It is
// hand-authored rather than protoc-generated: messages are plain Go structs
// carrying `json:` tags, and the wire representation is a custom
// encoding.Codec (see codec.go) registered under the "json" subtype, so no
// protoc toolchain or generated .pb.go file is required to use
// google.golang.org/grpc.
package cachepbv1

import (
	"context"

	"google.golang.org/grpc"
)

// GetRequest / GetResponse mirror store.Store.Get.
type GetRequest struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

type GetResponse struct {
	Found    bool   `json:"found"`
	Value    []byte `json:"value,omitempty"`
	CASToken uint64 `json:"cas_token,omitempty"`
	ExpiryMS int64  `json:"expiry_ms,omitempty"`
}

// SetRequest / SetResponse mirror store.Store.Set.
type SetRequest struct {
	Table       string `json:"table"`
	Key         string `json:"key"`
	Value       []byte `json:"value"`
	ExpectedCAS uint64 `json:"expected_cas"`
	TTLMS       int64  `json:"ttl_ms,omitempty"`
	WithoutCAS  bool   `json:"without_cas,omitempty"`
}

type SetResponse struct {
	Contention bool   `json:"contention,omitempty"`
	NewCAS     uint64 `json:"new_cas,omitempty"`
}

// DeleteRequest / DeleteResponse mirror store.Store.Delete.
type DeleteRequest struct {
	Table       string `json:"table"`
	Key         string `json:"key"`
	ExpectedCAS uint64 `json:"expected_cas"`
}

type DeleteResponse struct {
	Found      bool `json:"found"`
	Contention bool `json:"contention,omitempty"`
}

// BlobStoreServer is the interface server implementations register with
// grpc.ServiceDesc's handlers below.
type BlobStoreServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
}

// BlobStoreClient is the typed client surface, wrapping a grpc.ClientConn.
type BlobStoreClient interface {
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
}

type blobStoreClient struct {
	cc *grpc.ClientConn
}

// NewBlobStoreClient builds a client over cc, forcing the "json" codec
// subtype registered in codec.go on every call.
func NewBlobStoreClient(cc *grpc.ClientConn) BlobStoreClient {
	return &blobStoreClient{cc: cc}
}

func (c *blobStoreClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	err := c.cc.Invoke(ctx, "/cache.v1.BlobStore/Get", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blobStoreClient) Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error) {
	out := new(SetResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	err := c.cc.Invoke(ctx, "/cache.v1.BlobStore/Set", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blobStoreClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	err := c.cc.Invoke(ctx, "/cache.v1.BlobStore/Delete", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func handlerGet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlobStoreServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cache.v1.BlobStore/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlobStoreServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handlerSet(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlobStoreServer).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cache.v1.BlobStore/Set"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlobStoreServer).Set(ctx, req.(*SetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handlerDelete(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlobStoreServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cache.v1.BlobStore/Delete"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlobStoreServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-rolled equivalent of what protoc-gen-go-grpc
// would emit for a BlobStore service with Get/Set/Delete unary RPCs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "cache.v1.BlobStore",
	HandlerType: (*BlobStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: handlerGet},
		{MethodName: "Set", Handler: handlerSet},
		{MethodName: "Delete", Handler: handlerDelete},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cachepb/v1/blobstore.proto",
}

// RegisterBlobStoreServer registers srv against s using ServiceDesc.
func RegisterBlobStoreServer(s grpc.ServiceRegistrar, srv BlobStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}
