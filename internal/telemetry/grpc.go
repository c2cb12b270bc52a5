package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
)

var logf = monitoring.Component("Telemetry")

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "palpation.v1.Telemetry"

// TelemetryServer is the server API for the telemetry service. Records are
// sent as ListValue in palpation.RecordFields order; commands as Struct.
type TelemetryServer interface {
	StreamRecords(*emptypb.Empty, grpc.ServerStreamingServer[structpb.ListValue]) error
	StreamCommands(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

func streamRecordsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamRecords(m, &grpc.GenericServerStream[emptypb.Empty, structpb.ListValue]{ServerStream: stream})
}

func streamCommandsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamCommands(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes the telemetry service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamRecords", Handler: streamRecordsHandler, ServerStreams: true},
		{StreamName: "StreamCommands", Handler: streamCommandsHandler, ServerStreams: true},
	},
	Metadata: "palpation/v1/telemetry.proto",
}

// Server streams an Emitter's hubs to gRPC clients.
type Server struct {
	emitter *Emitter
	buffer  int
}

var _ TelemetryServer = (*Server)(nil)

// NewServer creates a Server reading from e.
func NewServer(e *Emitter) *Server {
	return &Server{emitter: e, buffer: DefaultSubscriberBuffer}
}

// RegisterService registers s on g.
func RegisterService(g *grpc.Server, s *Server) {
	g.RegisterService(&ServiceDesc, s)
}

// StreamRecords streams every record published after the call.
func (s *Server) StreamRecords(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.ListValue]) error {
	return pump(stream.Context(), s.emitter.Records(), s.buffer, func(r palpation.Record) error {
		return stream.Send(EncodeRecord(r))
	})
}

// StreamCommands streams every pose command published after the call.
func (s *Server) StreamCommands(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	return pump(stream.Context(), s.emitter.Commands(), s.buffer, func(c palpation.PoseCommand) error {
		msg, err := EncodeCommand(c)
		if err != nil {
			return status.Errorf(codes.Internal, "encode command: %v", err)
		}
		return stream.Send(msg)
	})
}

func pump[T any](ctx context.Context, hub *Hub[T], buffer int, send func(T) error) error {
	id, ch, cancel := hub.Subscribe(buffer)
	defer cancel()
	logf("client %s subscribed to %s", id, hub.Name())
	defer logf("client %s left %s", id, hub.Name())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "telemetry stream closed")
			}
			if err := send(v); err != nil {
				return err
			}
		}
	}
}

// EncodeRecord converts a record to its wire form.
func EncodeRecord(r palpation.Record) *structpb.ListValue {
	vals := r.Values()
	lv := &structpb.ListValue{Values: make([]*structpb.Value, len(vals))}
	for i, v := range vals {
		lv.Values[i] = structpb.NewNumberValue(v)
	}
	return lv
}

// DecodeRecord is the inverse of EncodeRecord. Contact and Session are not
// carried on the wire.
func DecodeRecord(lv *structpb.ListValue) (palpation.Record, error) {
	vals := lv.GetValues()
	if len(vals) != len(palpation.RecordFields) {
		return palpation.Record{}, fmt.Errorf("record has %d values, want %d", len(vals), len(palpation.RecordFields))
	}
	f := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return palpation.Record{}, fmt.Errorf("record value %d (%s) is not a number", i, palpation.RecordFields[i])
		}
		f[i] = n.NumberValue
	}
	return palpation.Record{
		Elapsed: f[0], CurrentZ: f[1], TargetZ: f[2], VelocityZ: f[3], ForceZ: f[4],
		Index: int(f[5]), Phase: palpation.Phase(f[6]), CurrentX: f[7], CurrentY: f[8],
	}, nil
}

// EncodeCommand converts a pose command to a Struct with stamp, frame_id,
// position {x,y,z} and orientation {x,y,z,w}.
func EncodeCommand(c palpation.PoseCommand) (*structpb.Struct, error) {
	p, q := c.Pose.Position, c.Pose.Orientation
	return structpb.NewStruct(map[string]any{
		"stamp":       c.Stamp.UTC().Format(time.RFC3339Nano),
		"frame_id":    c.FrameID,
		"position":    map[string]any{"x": p.X, "y": p.Y, "z": p.Z},
		"orientation": map[string]any{"x": q.Imag, "y": q.Jmag, "z": q.Kmag, "w": q.Real},
	})
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(s *structpb.Struct) (palpation.PoseCommand, error) {
	fields := s.GetFields()
	stamp, err := time.Parse(time.RFC3339Nano, fields["stamp"].GetStringValue())
	if err != nil {
		return palpation.PoseCommand{}, fmt.Errorf("command stamp: %w", err)
	}
	pos := fields["position"].GetStructValue().GetFields()
	ori := fields["orientation"].GetStructValue().GetFields()
	if pos == nil || ori == nil {
		return palpation.PoseCommand{}, fmt.Errorf("command missing position or orientation")
	}
	num := func(m map[string]*structpb.Value, k string) float64 { return m[k].GetNumberValue() }
	return palpation.PoseCommand{
		Stamp:   stamp,
		FrameID: fields["frame_id"].GetStringValue(),
		Pose: kinematics.Pose{
			Position:    r3.Vec{X: num(pos, "x"), Y: num(pos, "y"), Z: num(pos, "z")},
			Orientation: quat.Number{Real: num(ori, "w"), Imag: num(ori, "x"), Jmag: num(ori, "y"), Kmag: num(ori, "z")},
		},
	}, nil
}

// Listener owns a gRPC server bound to a TCP address.
type Listener struct {
	addr   string
	server *grpc.Server
	lis    net.Listener
	once   sync.Once
}

// Listen binds addr and registers the telemetry service for e.
func Listen(addr string, e *Emitter) (*Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	g := grpc.NewServer()
	RegisterService(g, NewServer(e))
	return &Listener{addr: lis.Addr().String(), server: g, lis: lis}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() string { return l.addr }

// Serve runs the server until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("gRPC server listening on %s", l.addr)
		errCh <- l.server.Serve(l.lis)
	}()
	select {
	case <-ctx.Done():
		l.Stop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Stop stops the server, closing open streams.
func (l *Listener) Stop() {
	l.once.Do(func() {
		// Stop rather than GracefulStop: streams are unbounded.
		l.server.Stop()
	})
}

// Close stops the server and releases the socket, whether or not Serve ran.
func (l *Listener) Close() error {
	l.Stop()
	if err := l.lis.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
