package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"strategylab/internal/strategy"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "strategylab.v1.Backtest"

// BacktestServer is the server API for the strategylab.v1.Backtest service.
// Requests and responses are google.protobuf.Struct messages carrying the
// same JSON documents as the HTTP API.
type BacktestServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + BacktestServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BacktestServiceDesc describes the strategylab.v1.Backtest service.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler("Run", BacktestServer.Run)},
		{MethodName: "ListStrategies", Handler: unaryHandler("ListStrategies", BacktestServer.ListStrategies)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", BacktestServer.GetRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strategylab/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on the given gRPC server.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&BacktestServiceDesc, srv)
}

// ---------------------------------------------------------------------------
// Server side
// ---------------------------------------------------------------------------

// GRPCServer adapts a Service to BacktestServer.
type GRPCServer struct {
	svc *Service
}

var _ BacktestServer = (*GRPCServer)(nil)

// NewGRPCServer wraps svc for gRPC.
func NewGRPCServer(svc *Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// Run executes a backtest described by a BacktestRequest document and
// returns the report.
func (g *GRPCServer) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	start := time.Now()
	rep, err := g.svc.Run(ctx, req)
	observeRun(req.Strategy, start, err)
	if err != nil {
		return nil, g.grpcError("Run", err)
	}
	return toStruct(rep)
}

// ListStrategies returns {"strategies": [...]}.
func (g *GRPCServer) ListStrategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"strategies": g.svc.Strategies()})
}

// GetRun returns the stored run named by {"id": ...}.
func (g *GRPCServer) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	detail, err := g.svc.GetRun(ctx, id)
	if err != nil {
		return nil, g.grpcError("GetRun", err)
	}
	return toStruct(detail)
}

func (g *GRPCServer) grpcError(method string, err error) error {
	switch code := ctxCode(err); {
	case isNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case isClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case code != codes.OK:
		return status.Error(code, err.Error())
	}
	g.svc.log.Error("grpc call failed", "method", method, "error", err)
	return status.Error(codes.Internal, err.Error())
}

func ctxCode(err error) codes.Code {
	switch status.FromContextError(err).Code() {
	case codes.Canceled:
		return codes.Canceled
	case codes.DeadlineExceeded:
		return codes.DeadlineExceeded
	}
	return codes.OK
}

// toStruct converts any JSON-encodable value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ---------------------------------------------------------------------------
// Client side
// ---------------------------------------------------------------------------

// BacktestClient calls the strategylab.v1.Backtest service.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient creates a client on an established connection.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

func (c *BacktestClient) invoke(ctx context.Context, method string, in any, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BacktestServiceName+"/"+method, req, resp); err != nil {
		return err
	}
	if err := fromStruct(resp, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

// Run executes a backtest remotely.
func (c *BacktestClient) Run(ctx context.Context, req BacktestRequest) (*strategy.Report, error) {
	var rep strategy.Report
	if err := c.invoke(ctx, "Run", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListStrategies returns the server's registered strategies.
func (c *BacktestClient) ListStrategies(ctx context.Context) ([]StrategyInfo, error) {
	var out struct {
		Strategies []StrategyInfo `json:"strategies"`
	}
	if err := c.invoke(ctx, "ListStrategies", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// GetRun fetches a stored run and its trades.
func (c *BacktestClient) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var out RunDetail
	if err := c.invoke(ctx, "GetRun", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
