package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/pubsub"
	"github.com/mr1hm/go-disaster-response/internal/repository"
)

const ServiceName = "emergency.v1.EmergencyService"

const (
	GetEmergencyMethod    = "/" + ServiceName + "/GetEmergency"
	StreamLifecycleMethod = "/" + ServiceName + "/StreamLifecycle"
)

type GetEmergencyRequest struct {
	ID string `json:"id"`
}

// StreamLifecycleRequest filters the event stream. Empty fields match
// everything.
type StreamLifecycleRequest struct {
	Type        models.EmergencyType `json:"emergency_type,omitempty"`
	MinSeverity models.Severity      `json:"min_severity,omitempty"`
}

type EmergencyGetter interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
}

// Subscriber is the in-process side of the lifecycle topic.
type Subscriber interface {
	Subscribe(topics ...string) (uint64, chan pubsub.Delivery)
	Unsubscribe(id uint64)
}

// EmergencyServiceServer is the handler type registered for ServiceName.
type EmergencyServiceServer interface {
	GetEmergency(ctx context.Context, req *GetEmergencyRequest) (*models.Emergency, error)
	StreamLifecycle(req *StreamLifecycleRequest, stream grpc.ServerStream) error
}

type Server struct {
	store      EmergencyGetter
	events     Subscriber
	topic      string
	grpcServer *grpc.Server
}

func NewServer(store EmergencyGetter, events Subscriber, topic string) *Server {
	s := &Server{
		store:      store,
		events:     events,
		topic:      topic,
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) GetEmergency(ctx context.Context, req *GetEmergencyRequest) (*models.Emergency, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	e, err := s.store.GetEmergency(ctx, req.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "emergency not found: %s", req.ID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to get emergency: %v", err)
	}
	return e, nil
}

func (s *Server) StreamLifecycle(req *StreamLifecycleRequest, stream grpc.ServerStream) error {
	if req.Type != "" && !req.Type.Valid() {
		return status.Errorf(codes.InvalidArgument, "unknown emergency type: %s", req.Type)
	}
	if req.MinSeverity != "" && !req.MinSeverity.Valid() {
		return status.Errorf(codes.InvalidArgument, "unknown severity: %s", req.MinSeverity)
	}

	id, ch := s.events.Subscribe(s.topic)
	defer s.events.Unsubscribe(id)

	slog.Info("client subscribed to lifecycle stream", "subscriber_id", id)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from lifecycle stream", "subscriber_id", id)
			return nil
		case d, ok := <-ch:
			if !ok {
				return nil
			}

			var event models.LifecycleEvent
			if err := json.Unmarshal([]byte(d.Message.Body), &event); err != nil {
				slog.Warn("skipping undecodable lifecycle event", "error", err, "subscriber_id", id)
				continue
			}
			if !req.matches(event) {
				continue
			}

			if err := stream.SendMsg(&event); err != nil {
				slog.Error("failed to send lifecycle event to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

func (r *StreamLifecycleRequest) matches(e models.LifecycleEvent) bool {
	if r.Type != "" && e.EmergencyType != r.Type {
		return false
	}
	if r.MinSeverity != "" && e.Severity.Rank() < r.MinSeverity.Rank() {
		return false
	}
	return true
}

func getEmergencyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetEmergencyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmergencyServiceServer).GetEmergency(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetEmergencyMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmergencyServiceServer).GetEmergency(ctx, req.(*GetEmergencyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamLifecycleHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamLifecycleRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EmergencyServiceServer).StreamLifecycle(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EmergencyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetEmergency",
			Handler:    getEmergencyHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamLifecycle",
			Handler:       streamLifecycleHandler,
			ServerStreams: true,
		},
	},
	Metadata: "emergency/v1/emergency.proto",
}

// StreamDesc describes StreamLifecycle for clients opening it with
// ClientConn.NewStream.
var StreamDesc = &serviceDesc.Streams[0]
