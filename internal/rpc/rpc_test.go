package rpc

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestRequestRoundTrip(t *testing.T) {
	payload, _ := structpb.NewStruct(map[string]interface{}{"max_tokens": 256.0})
	req := &ControlRequest{SessionID: "s1", TurnID: "t1", Method: "start", Payload: payload}

	wire, err := marshalRequest(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := unmarshalRequest(wire)

	if got.SessionID != req.SessionID || got.TurnID != req.TurnID || got.Method != req.Method {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, req)
	}
	if got.Payload.Fields["max_tokens"].GetNumberValue() != 256.0 {
		t.Fatalf("expected payload to survive round trip")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &ControlResponse{Ok: true, Detail: "ready"}
	wire, err := marshalResponse(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := responseFromStruct(wire)
	if !got.Ok || got.Detail != "ready" {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}
