package publish

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/vrtrack/internal/monitoring"
)

// StreamFramesMethod is the full gRPC method name.
const StreamFramesMethod = "/vrtrack.FrameStream/StreamFrames"

// FrameStreamServer is the server side of vrtrack.FrameStream. Requests and
// frames are google.protobuf.Struct so consumers need no generated code.
type FrameStreamServer interface {
	StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FrameStreamServer).StreamFrames(req, stream)
}

// FrameStreamServiceDesc describes vrtrack.FrameStream for grpc.Server.
var FrameStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: "vrtrack.FrameStream",
	HandlerType: (*FrameStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "vrtrack/frames.proto",
}

// Server streams published snapshots to gRPC clients.
type Server struct {
	publisher *Publisher
	grpc      *grpc.Server
}

var _ FrameStreamServer = (*Server)(nil)

// NewServer creates a gRPC server exposing publisher's frames.
func NewServer(publisher *Publisher, opts ...grpc.ServerOption) *Server {
	s := &Server{
		publisher: publisher,
		grpc:      grpc.NewServer(opts...),
	}
	s.grpc.RegisterService(&FrameStreamServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	monitoring.Logf("[gRPC] frame stream listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// StreamFrames sends every published snapshot until the client goes away
// or the publisher stops.
func (s *Server) StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error {
	opts := StreamOptionsFromRequest(req)
	frames, cancel, err := s.publisher.Subscribe()
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-frames:
			if !ok {
				return status.Error(codes.Unavailable, "publisher stopped")
			}
			msg, err := SnapshotToStruct(snap, opts)
			if err != nil {
				return status.Errorf(codes.Internal, "failed to encode frame %d: %v", snap.Sequence, err)
			}
			if err := stream.SendMsg(msg); err != nil {
				monitoring.Logf("[gRPC] send error: %v", err)
				return err
			}
		}
	}
}

// FrameStreamClient is the client side of vrtrack.FrameStream.
type FrameStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewFrameStreamClient wraps a client connection.
func NewFrameStreamClient(cc grpc.ClientConnInterface) *FrameStreamClient {
	return &FrameStreamClient{cc: cc}
}

// FrameReceiver yields frames from an open stream.
type FrameReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame.
func (r *FrameReceiver) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamFrames opens a frame stream with the given request options.
func (c *FrameStreamClient) StreamFrames(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*FrameReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &FrameStreamServiceDesc.Streams[0], StreamFramesMethod, opts...)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &structpb.Struct{}
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameReceiver{stream: stream}, nil
}
