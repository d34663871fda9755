package llmengine

import (
	"context"
	"fmt"
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

func azureSSEServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestGenerateStreamsTokensThenDone(t *testing.T) {
	srv := azureSSEServer(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo."}}]}`,
	})
	defer srv.Close()

	e := NewEngine(Config{Endpoint: srv.URL, APIKey: "k", Deployment: "gpt"})
	payload, _ := structpb.NewStruct(map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "hi"},
		},
		"max_tokens": 64.0,
	})

	stream := &fakeStream{ctx: context.Background()}
	if err := e.ControlStream(&rpc.ControlRequest{TurnID: "t1", Method: "generate", Payload: payload}, stream); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(stream.out) != 3 {
		t.Fatalf("expected 2 token frames + 1 done frame, got %d", len(stream.out))
	}
	var full string
	for _, r := range stream.out[:2] {
		full += r.Payload.Fields["text"].GetStringValue()
	}
	if full != "Hello." {
		t.Fatalf("expected accumulated text %q, got %q", "Hello.", full)
	}
	if !stream.out[2].Payload.Fields["done"].GetBoolValue() {
		t.Fatalf("expected final frame to carry done=true")
	}
}

func TestControlHealthReportsMissingCredentials(t *testing.T) {
	e := NewEngine(Config{})
	resp, err := e.Control(context.Background(), &rpc.ControlRequest{Method: "health"})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.Ok {
		t.Fatalf("expected health to fail without credentials")
	}
}

func TestCancelStopsInFlightGenerate(t *testing.T) {
	srv := azureSSEServer(t, []string{`{"choices":[{"delta":{"content":"a"}}]}`})
	defer srv.Close()

	e := NewEngine(Config{Endpoint: srv.URL, APIKey: "k", Deployment: "gpt"})
	ctx := e.registerTurn("t2")

	resp, err := e.Control(context.Background(), &rpc.ControlRequest{TurnID: "t2", Method: "cancel"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !resp.Ok {
		t.Fatalf("expected cancel to report ok")
	}

	if ctx.Err() == nil {
		t.Fatalf("expected context to be cancelled after Control cancel")
	}
}

func TestSummarizeReturnsModelContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"short summary"}}]}`)
	}))
	defer srv.Close()

	e := NewEngine(Config{Endpoint: srv.URL, APIKey: "k", Deployment: "gpt"})
	payload, _ := structpb.NewStruct(map[string]interface{}{"text": "a long conversation..."})
	resp, err := e.Control(context.Background(), &rpc.ControlRequest{Method: "summarize", Payload: payload})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !resp.Ok || resp.Payload.Fields["summary"].GetStringValue() != "short summary" {
		t.Fatalf("unexpected summarize response: %+v", resp)
	}
}
