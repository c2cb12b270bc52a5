package telemetry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/palpation/internal/palpation"
)

// Client is a thin client for the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Dial connects to addr without transport security. The telemetry port is
// meant for the bench network or an SSH tunnel.
func Dial(addr string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

func openStream[Res any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string) (grpc.ServerStreamingClient[Res], error) {
	stream, err := cc.NewStream(ctx, desc, method)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// StreamRecords opens the raw record stream.
func (c *Client) StreamRecords(ctx context.Context) (grpc.ServerStreamingClient[structpb.ListValue], error) {
	return openStream[structpb.ListValue](ctx, c.cc, &ServiceDesc.Streams[0], "/"+ServiceName+"/StreamRecords")
}

// StreamCommands opens the raw command stream.
func (c *Client) StreamCommands(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return openStream[structpb.Struct](ctx, c.cc, &ServiceDesc.Streams[1], "/"+ServiceName+"/StreamCommands")
}

// FollowRecords calls fn for each decoded record until the stream ends, ctx
// is cancelled or fn returns an error.
func (c *Client) FollowRecords(ctx context.Context, fn func(palpation.Record) error) error {
	stream, err := c.StreamRecords(ctx)
	if err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		rec, err := DecodeRecord(msg)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// FollowCommands calls fn for each decoded pose command.
func (c *Client) FollowCommands(ctx context.Context, fn func(palpation.PoseCommand) error) error {
	stream, err := c.StreamCommands(ctx)
	if err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		cmd, err := DecodeCommand(msg)
		if err != nil {
			return err
		}
		if err := fn(cmd); err != nil {
			return err
		}
	}
}
