package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

// ReportServiceName is the fully qualified gRPC service name. Reports travel
// as google.protobuf.Struct holding the same document the HTTP API serves.
const ReportServiceName = "alphafactory.v1.ReportService"

const (
	methodGetReport      = "/" + ReportServiceName + "/GetReport"
	methodListReports    = "/" + ReportServiceName + "/ListReports"
	methodListStrategies = "/" + ReportServiceName + "/ListStrategies"
)

// ReportServer is the server side of ReportService.
type ReportServer interface {
	GetReport(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListReports(context.Context, *wrapperspb.Int64Value) (*structpb.ListValue, error)
	ListStrategies(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

var reportServiceDesc = grpc.ServiceDesc{
	ServiceName: ReportServiceName,
	HandlerType: (*ReportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetReport", Handler: getReportHandler},
		{MethodName: "ListReports", Handler: listReportsHandler},
		{MethodName: "ListStrategies", Handler: listStrategiesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alphafactory/v1/report.proto",
}

// RegisterGRPC registers the report service on gs.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&reportServiceDesc, &reportServer{svc: s})
}

type reportServer struct {
	svc *Service
}

func (rs *reportServer) GetReport(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "report id is required")
	}
	rep, err := rs.svc.GetReport(ctx, in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	var m map[string]any
	if err := roundTrip(rep, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (rs *reportServer) ListReports(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.ListValue, error) {
	summaries, err := rs.svc.ListReports(ctx, int(in.GetValue()))
	if err != nil {
		return nil, grpcError(err)
	}
	var items []any
	if err := roundTrip(summaries, &items); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (rs *reportServer) ListStrategies(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names := rs.svc.Strategies()
	items := make([]any, len(names))
	for i, n := range names {
		items[i] = n
	}
	return structpb.NewList(items)
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case isClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// roundTrip converts src into dst through its JSON form.
func roundTrip(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func getReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServer).GetReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetReport}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServer).GetReport(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listReportsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServer).ListReports(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListReports}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServer).ListReports(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func listStrategiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServer).ListStrategies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListStrategies}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServer).ListStrategies(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ReportClient calls ReportService and decodes its documents back into
// report types.
type ReportClient struct {
	cc grpc.ClientConnInterface
}

// NewReportClient wraps an existing connection.
func NewReportClient(cc grpc.ClientConnInterface) *ReportClient {
	return &ReportClient{cc: cc}
}

// DialReports connects to a ReportService at addr without transport
// security. Close the returned connection when done.
func DialReports(addr string) (*ReportClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewReportClient(conn), conn, nil
}

// GetReport fetches a full report by ID.
func (c *ReportClient) GetReport(ctx context.Context, id string) (*report.Report, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetReport, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	var rep report.Report
	if err := roundTrip(out.AsMap(), &rep); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", id, err)
	}
	return &rep, nil
}

// ListReports fetches up to limit summaries, newest first.
func (c *ReportClient) ListReports(ctx context.Context, limit int) ([]report.Summary, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListReports, wrapperspb.Int64(int64(limit)), out); err != nil {
		return nil, err
	}
	var summaries []report.Summary
	if err := roundTrip(out.AsSlice(), &summaries); err != nil {
		return nil, fmt.Errorf("decoding summaries: %w", err)
	}
	return summaries, nil
}

// ListStrategies fetches the registered strategy names.
func (c *ReportClient) ListStrategies(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListStrategies, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}
