package server

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joshp123/gomow/internal/controller"
	"github.com/joshp123/gomow/internal/statebus"
)

const (
	ControllerServiceName = "gomow.v1.ControllerService"
	controllerProtoFile   = "gomow/v1/controller.proto"
)

// StatusSource exposes the controller snapshot.
type StatusSource interface {
	Snapshot() controller.Snapshot
}

// Controller is the part of the controller the RPC surface drives.
type Controller interface {
	StatusSource
	RequestStop(stop bool)
}

// ControllerServer is the handler contract of gomow.v1.ControllerService.
type ControllerServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetStopMowing(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
}

// ControllerService implements ControllerServer over a running controller.
type ControllerService struct {
	ctrl Controller
}

func NewControllerService(ctrl Controller) *ControllerService {
	return &ControllerService{ctrl: ctrl}
}

func (s *ControllerService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(statusFields(s.ctrl.Snapshot()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *ControllerService) SetStopMowing(_ context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}
	s.ctrl.RequestStop(req.GetValue())
	return &emptypb.Empty{}, nil
}

// statusFields flattens a snapshot into JSON/Struct friendly values.
// Timestamps are Unix milliseconds with 0 for unset.
func statusFields(snap controller.Snapshot) map[string]any {
	var lockedUntil any = statebus.Millis(snap.LockedUntil)
	if snap.LockIndefinite {
		lockedUntil = controller.LockedIndefinitely
	}
	lockStates := snap.LockStates
	if lockStates == nil {
		lockStates = map[string]any{}
	}
	return map[string]any{
		"started":                  snap.Started,
		"activity":                 snap.Activity,
		"observed_state":           string(snap.Observed),
		"desired_state":            string(snap.Desired),
		"reason":                   string(snap.Reason),
		"schedule_active":          snap.ScheduleActive,
		"locked":                   snap.Locked,
		"locked_until":             lockedUntil,
		"lock_states":              lockStates,
		"next_start":               statebus.Millis(snap.NextStart),
		"next_stop":                statebus.Millis(snap.NextStop),
		"cmd_mowing_until":         statebus.Millis(snap.PlannedEnd),
		"mowing_started":           statebus.Millis(snap.MowingStarted),
		"charging_started":         statebus.Millis(snap.ChargingStarted),
		"stop_mowing":              snap.StopRequested,
		"battery_level":            snap.BatteryLevel,
		"remaining_charge_seconds": snap.RemainingChargeSeconds,
		"remaining_mowing_seconds": snap.RemainingMowingSeconds,
		"mowed_minutes_today":      snap.MowedMinutesToday,
		"charge_samples":           snap.ChargeSamples,
		"mow_samples":              snap.MowSamples,
		"updated_at":               statebus.Millis(snap.UpdatedAt),
	}
}

var (
	registerFileOnce sync.Once
	registerFileErr  error
)

// controllerFile describes the service for reflection clients. The messages
// are the protobuf well-known types.
func controllerFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(controllerProtoFile),
		Package: proto.String("gomow.v1"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("ControllerService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("GetStatus"),
					InputType:  proto.String(".google.protobuf.Empty"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
				{
					Name:       proto.String("SetStopMowing"),
					InputType:  proto.String(".google.protobuf.BoolValue"),
					OutputType: proto.String(".google.protobuf.Empty"),
				},
			},
		}},
		Syntax: proto.String("proto3"),
	}
}

func registerControllerFile() error {
	registerFileOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(controllerProtoFile); err == nil {
			return
		}
		file, err := protodesc.NewFile(controllerFile(), protoregistry.GlobalFiles)
		if err != nil {
			registerFileErr = fmt.Errorf("build controller descriptor: %w", err)
			return
		}
		registerFileErr = protoregistry.GlobalFiles.RegisterFile(file)
	})
	return registerFileErr
}

// RegisterControllerService registers srv and its descriptor on server.
func RegisterControllerService(server *grpc.Server, srv ControllerServer) error {
	if err := registerControllerFile(); err != nil {
		return err
	}
	server.RegisterService(&controllerServiceDesc, srv)
	return nil
}

var controllerServiceDesc = grpc.ServiceDesc{
	ServiceName: ControllerServiceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "SetStopMowing", Handler: setStopMowingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: controllerProtoFile,
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ControllerServiceName + "/GetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setStopMowingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).SetStopMowing(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ControllerServiceName + "/SetStopMowing"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).SetStopMowing(ctx, req.(*wrapperspb.BoolValue))
	}
	return interceptor(ctx, in, info, handler)
}
