package ttsengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"turnmesh/internal/rpc"
)

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
	out []*rpc.ControlResponse
}

func (s *fakeStream) Context() context.Context { return s.ctx }
func (s *fakeStream) Send(resp *rpc.ControlResponse) error {
	s.out = append(s.out, resp)
	return nil
}

// buildMonoWAV encodes samples as a 16kHz mono 16-bit PCM WAV body.
func buildMonoWAV(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(16000*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestSynthesizeStreamsPCMChunks(t *testing.T) {
	samples := make([]int16, 1600) // 100ms @ 16kHz
	for i := range samples {
		samples[i] = int16(i)
	}
	wav := buildMonoWAV(samples)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "k" {
			t.Errorf("expected xi-api-key header, got %q", got)
		}
		w.Write(wav)
	}))
	defer srv.Close()

	e := NewEngine(Config{APIKey: "k", VoiceID: "voice1", BaseURL: srv.URL})
	payload, _ := structpb.NewStruct(map[string]interface{}{"text": "hello"})
	stream := &fakeStream{ctx: context.Background()}
	if err := e.ControlStream(&rpc.ControlRequest{TurnID: "t1", Method: "synthesize", Payload: payload}, stream); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	wantFrameBytes := 16000 / 50 * 2
	wantFrames := (len(samples)*2 + wantFrameBytes - 1) / wantFrameBytes
	if len(stream.out) != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, len(stream.out))
	}
	var total int
	for _, r := range stream.out {
		if !r.Ok || r.Bytes == nil {
			t.Fatalf("expected ok frame carrying PCM bytes, got %+v", r)
		}
		total += len(r.Bytes.Value)
	}
	if total != len(samples)*2 {
		t.Fatalf("expected %d total PCM bytes across frames, got %d", len(samples)*2, total)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	e := NewEngine(Config{APIKey: "k", VoiceID: "voice1"})
	stream := &fakeStream{ctx: context.Background()}
	payload, _ := structpb.NewStruct(map[string]interface{}{"text": ""})
	if err := e.ControlStream(&rpc.ControlRequest{TurnID: "t1", Method: "synthesize", Payload: payload}, stream); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(stream.out) != 1 || stream.out[0].Ok {
		t.Fatalf("expected a single rejecting frame, got %+v", stream.out)
	}
}

func TestHealthReportsMissingAPIKey(t *testing.T) {
	e := NewEngine(Config{})
	resp, err := e.Control(context.Background(), &rpc.ControlRequest{Method: "health"})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.Ok {
		t.Fatalf("expected health to fail without an API key")
	}
}

func TestStereoWAVAveragesToMono(t *testing.T) {
	left := []int16{100, 200, 300}
	right := []int16{0, 0, 0}
	data := make([]byte, len(left)*4)
	for i := range left {
		binary.LittleEndian.PutUint16(data[i*4:], uint16(left[i]))
		binary.LittleEndian.PutUint16(data[i*4+2:], uint16(right[i]))
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // stereo
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint32(16000*4))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	pcm, _, err := readWAVPCM16(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readWAVPCM16: %v", err)
	}
	if len(pcm) != len(left)*2 {
		t.Fatalf("expected mono output of %d bytes, got %d", len(left)*2, len(pcm))
	}
	got := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	if got != 50 {
		t.Fatalf("expected averaged sample 50, got %d", got)
	}
}
