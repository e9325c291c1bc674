package directory

import (
	"context"
	"errors"
	"time"

	"clinic-chat/internal/platform/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server 預約目錄 gRPC 服務介面.
type Server interface {
	GetAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// serviceDesc 對應 clinic.directory.v1.AppointmentDirectory.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAppointment", Handler: getAppointmentHandler},
		{MethodName: "ListAppointments", Handler: listAppointmentsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clinic/directory/v1/directory.proto",
}

// RegisterServer 將任意 Directory 以 gRPC 形式提供服務.
func RegisterServer(s grpc.ServiceRegistrar, dir Directory) {
	s.RegisterService(&serviceDesc, &server{dir: dir})
}

type server struct {
	dir Directory
}

func (s *server) GetAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := s.dir.GetAppointment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, status.Error(codes.NotFound, "appointment not found")
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, "directory unavailable")
	}
	return structpb.NewStruct(encodeAppointment(a))
}

func (s *server) ListAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	principalID := f["principalId"].GetStringValue()
	role := f["role"].GetStringValue()
	if principalID == "" || (role != RolePatient && role != RoleDoctor) {
		return nil, status.Error(codes.InvalidArgument, "principalId and role are required")
	}
	list, err := s.dir.ListAppointments(ctx, principalID, role)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "directory unavailable")
	}
	items := make([]interface{}, 0, len(list))
	for _, a := range list {
		items = append(items, encodeAppointment(a))
	}
	return structpb.NewStruct(map[string]interface{}{"appointments": items})
}

func getAppointmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetAppointment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAppointment}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetAppointment(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listAppointmentsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ListAppointments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListAppointments}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).ListAppointments(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// LoggingInterceptor 記錄每個 gRPC 呼叫的耗時與結果.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		opts := []logger.LogOption{
			logger.WithAction("grpc_call"),
			logger.WithDetails(map[string]interface{}{
				"method":  info.FullMethod,
				"code":    status.Code(err).String(),
				"latency": time.Since(start).String(),
			}),
		}
		if err != nil && status.Code(err) != codes.NotFound {
			logger.Warning(ctx, "預約目錄呼叫失敗", append(opts, logger.WithError(err))...)
		} else {
			logger.Debug(ctx, "預約目錄呼叫完成", opts...)
		}
		return resp, err
	}
}
