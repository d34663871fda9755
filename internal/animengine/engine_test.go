package animengine

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"turnmesh/internal/rpc"
)

func driveAudioReq(turnID string, tAudioMs uint32, pcmLen int) *rpc.ControlRequest {
	payload, _ := structpb.NewStruct(map[string]interface{}{
		"t_audio_ms": float64(tAudioMs),
		"pcm_len":    float64(pcmLen),
	})
	return &rpc.ControlRequest{TurnID: turnID, Method: "drive_audio", Payload: payload}
}

func TestDriveAudioReturnsNeutralPoseWithJawDriven(t *testing.T) {
	e := NewEngine(Config{TargetFPS: 30})

	resp, err := e.Control(context.Background(), driveAudioReq("t1", 20, 640))
	if err != nil {
		t.Fatalf("drive_audio: %v", err)
	}
	if !resp.Ok {
		t.Fatalf("expected ok response")
	}
	bs := resp.Payload.Fields["blendshapes"].GetStructValue()
	if bs == nil {
		t.Fatalf("expected blendshapes struct in payload")
	}
	if _, ok := bs.Fields["jawOpen"]; !ok {
		t.Fatalf("expected jawOpen channel present")
	}
	for ch, v := range bs.Fields {
		if ch == "jawOpen" || ch == "mouthClose" {
			continue
		}
		if v.GetNumberValue() != 0 {
			t.Fatalf("expected neutral channel %s to be 0, got %v", ch, v.GetNumberValue())
		}
	}
}

func TestDriveAudioIncrementsSeqPerTurn(t *testing.T) {
	e := NewEngine(Config{})
	r1, _ := e.Control(context.Background(), driveAudioReq("t1", 20, 640))
	r2, _ := e.Control(context.Background(), driveAudioReq("t1", 40, 640))
	if r1.Payload.Fields["seq"].GetNumberValue() != 1 {
		t.Fatalf("expected first frame seq 1, got %v", r1.Payload.Fields["seq"].GetNumberValue())
	}
	if r2.Payload.Fields["seq"].GetNumberValue() != 2 {
		t.Fatalf("expected second frame seq 2, got %v", r2.Payload.Fields["seq"].GetNumberValue())
	}
}

func TestCancelDropsTurnState(t *testing.T) {
	e := NewEngine(Config{})
	e.Control(context.Background(), driveAudioReq("t1", 20, 640))
	if _, err := e.Control(context.Background(), &rpc.ControlRequest{TurnID: "t1", Method: "cancel"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// A drive_audio call after cancel starts a fresh turnState, so seq resets to 1.
	resp, _ := e.Control(context.Background(), driveAudioReq("t1", 60, 640))
	if resp.Payload.Fields["seq"].GetNumberValue() != 1 {
		t.Fatalf("expected seq to reset after cancel, got %v", resp.Payload.Fields["seq"].GetNumberValue())
	}
}

func TestUnknownMethodIsUnimplemented(t *testing.T) {
	e := NewEngine(Config{})
	if _, err := e.Control(context.Background(), &rpc.ControlRequest{Method: "bogus"}); err == nil {
		t.Fatalf("expected an error for an unknown method")
	}
}
