package rpc

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client wraps a grpc.ClientConn bound to one sidecar address.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection (dialing, retry, and TLS
// options are the caller's concern, typically via internal/adapters'
// reconnect helper).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func newReplyStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func responseFromStruct(s *structpb.Struct) *ControlResponse {
	resp := &ControlResponse{}
	if v, ok := s.Fields["ok"]; ok {
		resp.Ok = v.GetBoolValue()
	}
	if v, ok := s.Fields["detail"]; ok {
		resp.Detail = v.GetStringValue()
	}
	if v, ok := s.Fields["payload"]; ok {
		resp.Payload = v.GetStructValue()
	}
	if v, ok := s.Fields["bytes_b64"]; ok {
		if raw, err := base64.StdEncoding.DecodeString(v.GetStringValue()); err == nil {
			resp.Bytes = wrapperspb.Bytes(raw)
		}
	}
	return resp
}

// Control issues one unary control-plane call.
func (c *Client) Control(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	in, err := marshalRequest(req)
	if err != nil {
		return nil, err
	}
	reply := newReplyStruct()
	if err := c.conn.Invoke(ctx, "/turnmesh.rpc.Control/Control", in, reply); err != nil {
		return nil, err
	}
	return responseFromStruct(reply), nil
}

// ControlStream opens the server-streaming control call and returns a
// receive-only channel of responses, closed when the stream ends.
func (c *Client) ControlStream(ctx context.Context, req *ControlRequest) (<-chan *ControlResponse, error) {
	in, err := marshalRequest(req)
	if err != nil {
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: "ControlStream", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/turnmesh.rpc.Control/ControlStream")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan *ControlResponse, 8)
	go func() {
		defer close(out)
		for {
			msg := newReplyStruct()
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			out <- responseFromStruct(msg)
		}
	}()
	return out, nil
}
