package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"stockbt/internal/store"
)

// ResultsServiceName is the fully qualified gRPC service name.
const ResultsServiceName = "stockbt.results.v1.Results"

const (
	listRunsMethod = "/" + ResultsServiceName + "/ListRuns"
	getRunMethod   = "/" + ResultsServiceName + "/GetRun"
)

// ResultsService serves archived backtest runs. Messages are protobuf
// well-known types carrying the JSON form of store.RunSummary and
// store.RunRecord.
type ResultsService interface {
	// ListRuns returns run summaries, newest first. A zero limit returns all.
	ListRuns(ctx context.Context, limit *wrapperspb.Int32Value) (*structpb.ListValue, error)
	// GetRun returns one run with its daily records and rebalance events.
	GetRun(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

// Compile-time interface check.
var _ ResultsService = (*ResultsServer)(nil)

// ResultsServer implements ResultsService over a RunStore.
type ResultsServer struct {
	runs store.RunStore
	log  *slog.Logger
}

// NewResultsServer creates a ResultsServer backed by runs.
func NewResultsServer(runs store.RunStore, log *slog.Logger) *ResultsServer {
	if log == nil {
		log = slog.Default()
	}
	return &ResultsServer{runs: runs, log: log.With("component", "results")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *ResultsServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&resultsServiceDesc, s)
}

// ListRuns implements ResultsService.
func (s *ResultsServer) ListRuns(ctx context.Context, limit *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	n := int(limit.GetValue())
	if n < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative limit %d", n)
	}
	runs, err := s.runs.ListRuns(ctx, n)
	if err != nil {
		s.log.Error("listing runs", "err", err)
		return nil, status.Errorf(codes.Internal, "listing runs: %v", err)
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	var items []any
	if err := roundTrip(runs, &items); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding runs: %v", err)
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding runs: %v", err)
	}
	return lv, nil
}

// GetRun implements ResultsService.
func (s *ResultsServer) GetRun(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error) {
	if id.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "run id required")
	}
	run, err := s.runs.GetRun(ctx, id.GetValue())
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "run %s not found", id.GetValue())
	}
	if err != nil {
		s.log.Error("loading run", "run_id", id.GetValue(), "err", err)
		return nil, status.Errorf(codes.Internal, "loading run: %v", err)
	}
	m, err := runToMap(run)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding run: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding run: %v", err)
	}
	return st, nil
}

// runToMap renders a run as JSON values, inlining the archived config
// document instead of its base64 byte form.
func runToMap(run *store.RunRecord) (map[string]any, error) {
	cfg := run.ConfigJSON
	cp := *run
	cp.ConfigJSON = nil

	var m map[string]any
	if err := roundTrip(cp, &m); err != nil {
		return nil, err
	}
	delete(m, "config")
	if len(cfg) > 0 {
		var doc any
		if err := json.Unmarshal(cfg, &doc); err != nil {
			return nil, fmt.Errorf("archived config is not JSON: %w", err)
		}
		m["config"] = doc
	}
	return m, nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

var resultsServiceDesc = grpc.ServiceDesc{
	ServiceName: ResultsServiceName,
	HandlerType: (*ResultsService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRuns", Handler: listRunsHandler},
		{MethodName: "GetRun", Handler: getRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockbt/results.v1",
}

func listRunsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResultsService).ListRuns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listRunsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResultsService).ListRuns(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func getRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResultsService).GetRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResultsService).GetRun(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// ResultsClient calls a remote ResultsService and decodes its replies back
// into store types.
type ResultsClient struct {
	cc grpc.ClientConnInterface
}

// NewResultsClient wraps an established connection.
func NewResultsClient(cc grpc.ClientConnInterface) *ResultsClient {
	return &ResultsClient{cc: cc}
}

// DialResults connects to a results server without transport security.
func DialResults(addr string) (*ResultsClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewResultsClient(conn), conn, nil
}

// ListRuns returns up to limit run summaries, newest first.
func (c *ResultsClient) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listRunsMethod, wrapperspb.Int32(int32(limit)), out); err != nil {
		return nil, err
	}
	var runs []store.RunSummary
	if err := roundTrip(out.AsSlice(), &runs); err != nil {
		return nil, fmt.Errorf("decoding runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one archived run.
func (c *ResultsClient) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getRunMethod, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	m := out.AsMap()
	cfg, hasCfg := m["config"]
	delete(m, "config")

	var run store.RunRecord
	if err := roundTrip(m, &run); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	if hasCfg {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("decoding run config: %w", err)
		}
		run.ConfigJSON = data
	}
	return &run, nil
}
