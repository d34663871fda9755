// Package rpc is the sidecar control-plane transport: a gRPC service that
// carries Start/Cancel/Health and the per-sidecar work calls to the
// LLM/TTS/Animation sidecar processes. The ASR sidecar (internal/sttengine)
// is a plain websocket relay and does not use this package.
//
// The old sidecar servers (internal/{stt,llm,tts}/server.go) spoke
// gRPC against code generated from .proto files that are not part of this
// module's retrieval pack. Rather than fabricate hand-written *.pb.go
// stubs, this package builds its wire messages from protobuf's pre-compiled
// well-known types (structpb.Struct, wrapperspb.BytesValue) and registers a
// hand-written grpc.ServiceDesc, so both google.golang.org/grpc and
// google.golang.org/protobuf remain genuinely exercised dependencies
// without any codegen step.
package rpc

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ControlRequest is what a pipeline sends to a sidecar: an opaque
// method name plus a structured payload, so one unary Control call and one
// server-streaming ControlStream call carry every method for every sidecar
// kind without four separate service definitions.
type ControlRequest struct {
	SessionID string
	TurnID    string
	Method    string // unary: "start" | "cancel" | "health" | "summarize" | "drive_audio"; streamed: "generate" | "synthesize"
	Payload   *structpb.Struct
}

// ControlResponse carries either a structured result or raw bytes (e.g. a
// TTS PCM chunk).
type ControlResponse struct {
	Ok      bool
	Detail  string
	Payload *structpb.Struct
	Bytes   *wrapperspb.BytesValue
}

// ControlServer is implemented by each rpc sidecar (llm/tts/animation) and
// registered against the shared ServiceDesc below.
type ControlServer interface {
	Control(ctx context.Context, req *ControlRequest) (*ControlResponse, error)
	ControlStream(req *ControlRequest, stream ControlStreamServer) error
}

// ControlStreamServer is the server-streaming handle for long-running
// calls (generate, synthesize) that emit many ControlResponses.
type ControlStreamServer interface {
	Send(*ControlResponse) error
	grpc.ServerStream
}

func marshalRequest(req *ControlRequest) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"session_id": req.SessionID,
		"turn_id":    req.TurnID,
		"method":     req.Method,
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	if req.Payload != nil {
		s.Fields["payload"] = structpb.NewStructValue(req.Payload)
	}
	return s, nil
}

func marshalResponse(resp *ControlResponse) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]interface{}{
		"ok":     resp.Ok,
		"detail": resp.Detail,
	})
	if err != nil {
		return nil, err
	}
	if resp.Payload != nil {
		out.Fields["payload"] = structpb.NewStructValue(resp.Payload)
	}
	if resp.Bytes != nil {
		out.Fields["bytes_b64"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(resp.Bytes.Value))
	}
	return out, nil
}

func unmarshalRequest(s *structpb.Struct) *ControlRequest {
	req := &ControlRequest{}
	if v, ok := s.Fields["session_id"]; ok {
		req.SessionID = v.GetStringValue()
	}
	if v, ok := s.Fields["turn_id"]; ok {
		req.TurnID = v.GetStringValue()
	}
	if v, ok := s.Fields["method"]; ok {
		req.Method = v.GetStringValue()
	}
	if v, ok := s.Fields["payload"]; ok {
		req.Payload = v.GetStructValue()
	}
	return req
}

// unaryHandler adapts the generic grpc.UnaryHandler shape to ControlServer.Control.
func unaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	server, ok := srv.(ControlServer)
	if !ok {
		return nil, status.Error(codes.Internal, "rpc: server does not implement ControlServer")
	}
	resp, err := server.Control(ctx, unmarshalRequest(in))
	if err != nil {
		return nil, err
	}
	return marshalResponse(resp)
}

type controlStream struct {
	grpc.ServerStream
}

func (s *controlStream) Send(resp *ControlResponse) error {
	out, err := marshalResponse(resp)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(out)
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := &structpb.Struct{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	server, ok := srv.(ControlServer)
	if !ok {
		return status.Error(codes.Internal, "rpc: server does not implement ControlServer")
	}
	return server.ControlStream(unmarshalRequest(in), &controlStream{ServerStream: stream})
}

// ServiceDesc is the hand-written control-plane service: one unary Control
// call (start/cancel/health/summarize/drive_audio) and one server-streaming
// ControlStream call (generate/synthesize), both carrying structpb.Struct
// messages.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "turnmesh.rpc.Control",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Control",
			Handler:    unaryHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ControlStream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "internal/rpc/rpc.go",
}

// RegisterControlServer registers srv against s under ServiceDesc.
func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
