// Package llmengine is the generation sidecar: an internal/rpc.ControlServer
// that drives Azure OpenAI's chat-completions endpoint over server-sent
// events, shaped after internal/llm/server.go but speaking the generic
// Control/ControlStream contract instead of a dedicated LLM proto service.
package llmengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"turnmesh/internal/logging"
	"turnmesh/internal/rpc"
)

// Config carries the Azure deployment this Engine targets. Unlike the old
// Session handler, which read os.Getenv directly on every call, these are
// resolved once at sidecar startup and injected so the Engine can be
// exercised without environment fakery.
type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// Engine answers Control/ControlStream calls for Method "start", "cancel",
// "health", "summarize" and "generate".
type Engine struct {
	cfg   Config
	httpc *http.Client

	mu    sync.Mutex
	turns map[string]context.CancelFunc
}

func NewEngine(cfg Config) *Engine {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	return &Engine{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 0},
		turns: make(map[string]context.CancelFunc),
	}
}

var log = logging.For("llmengine")

func (e *Engine) registerTurn(turnID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	if turnID == "" {
		return ctx
	}
	e.mu.Lock()
	e.turns[turnID] = cancel
	e.mu.Unlock()
	return ctx
}

func (e *Engine) releaseTurn(turnID string) {
	if turnID == "" {
		return
	}
	e.mu.Lock()
	delete(e.turns, turnID)
	e.mu.Unlock()
}

// Control answers the unary Start/Cancel/Health/Summarize methods.
func (e *Engine) Control(ctx context.Context, req *rpc.ControlRequest) (*rpc.ControlResponse, error) {
	switch req.Method {
	case "start":
		return &rpc.ControlResponse{Ok: true}, nil
	case "cancel":
		e.mu.Lock()
		cancel, ok := e.turns[req.TurnID]
		e.mu.Unlock()
		if ok {
			cancel()
		}
		return &rpc.ControlResponse{Ok: true}, nil
	case "health":
		if e.cfg.Endpoint == "" || e.cfg.APIKey == "" {
			return &rpc.ControlResponse{Ok: false, Detail: "missing AZURE_OPENAI_ENDPOINT or AZURE_OPENAI_API_KEY"}, nil
		}
		return &rpc.ControlResponse{Ok: true}, nil
	case "summarize":
		return e.summarize(ctx, req)
	default:
		return nil, status.Errorf(codes.Unimplemented, "llmengine: unknown method %q", req.Method)
	}
}

// ControlStream answers the server-streaming Generate call.
func (e *Engine) ControlStream(req *rpc.ControlRequest, stream rpc.ControlStreamServer) error {
	switch req.Method {
	case "generate":
		return e.generate(req, stream)
	default:
		return status.Errorf(codes.Unimplemented, "llmengine: unknown stream method %q", req.Method)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func messagesFromPayload(payload *structpb.Struct) []chatMessage {
	var out []chatMessage
	if payload == nil {
		return out
	}
	list := payload.Fields["messages"].GetListValue()
	if list == nil {
		return out
	}
	for _, v := range list.Values {
		s := v.GetStructValue()
		if s == nil {
			continue
		}
		out = append(out, chatMessage{
			Role:    s.Fields["role"].GetStringValue(),
			Content: s.Fields["content"].GetStringValue(),
		})
	}
	return out
}

func (e *Engine) azureURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(e.cfg.Endpoint, "/"), e.cfg.Deployment, e.cfg.APIVersion)
}

func (e *Engine) summarize(ctx context.Context, req *rpc.ControlRequest) (*rpc.ControlResponse, error) {
	if e.cfg.Endpoint == "" || e.cfg.APIKey == "" {
		return &rpc.ControlResponse{Ok: false, Detail: "missing Azure OpenAI credentials"}, nil
	}
	text := req.Payload.Fields["text"].GetStringValue()

	body := map[string]any{
		"stream": false,
		"messages": []chatMessage{
			{Role: "system", Content: "Summarize the conversation below concisely, preserving names, facts, and open commitments."},
			{Role: "user", Content: text},
		},
		"max_tokens": 400,
	}
	reqBytes, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.azureURL(), bytes.NewReader(reqBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("api-key", e.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.httpc.Do(httpReq)
	if err != nil {
		metricRequestLatencyMs.WithLabelValues("summarize", "error").Observe(float64(time.Since(start).Milliseconds()))
		return &rpc.ControlResponse{Ok: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequestLatencyMs.WithLabelValues("summarize", "http_error").Observe(float64(time.Since(start).Milliseconds()))
		return &rpc.ControlResponse{Ok: false, Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(b))}, nil
	}
	metricRequestLatencyMs.WithLabelValues("summarize", "ok").Observe(float64(time.Since(start).Milliseconds()))

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &rpc.ControlResponse{Ok: false, Detail: err.Error()}, nil
	}
	summary := ""
	if len(parsed.Choices) > 0 {
		summary = parsed.Choices[0].Message.Content
	}
	payload, err := structpb.NewStruct(map[string]interface{}{"summary": summary})
	if err != nil {
		return nil, err
	}
	return &rpc.ControlResponse{Ok: true, Payload: payload}, nil
}

func (e *Engine) generate(req *rpc.ControlRequest, stream rpc.ControlStreamServer) error {
	turnLog := logging.Session("llmengine", req.SessionID, req.TurnID)
	ctx := e.registerTurn(req.TurnID)
	defer e.releaseTurn(req.TurnID)

	if e.cfg.Endpoint == "" || e.cfg.APIKey == "" {
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: "missing Azure OpenAI credentials"})
	}

	messages := messagesFromPayload(req.Payload)
	maxTokens := 0
	if req.Payload != nil {
		maxTokens = int(req.Payload.Fields["max_tokens"].GetNumberValue())
	}

	body := map[string]any{"stream": true, "messages": messages}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	reqBytes, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.azureURL(), bytes.NewReader(reqBytes))
	if err != nil {
		return err
	}
	httpReq.Header.Set("api-key", e.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := e.httpc.Do(httpReq)
	if err != nil {
		metricRequestLatencyMs.WithLabelValues("generate", "error").Observe(float64(time.Since(start).Milliseconds()))
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: err.Error()})
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequestLatencyMs.WithLabelValues("generate", "http_error").Observe(float64(time.Since(start).Milliseconds()))
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(b))})
	}

	br := bufio.NewReader(resp.Body)
	decoder := newSSEDecoder(br)
	firstTokenSent := false

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			turnLog.Warn().Err(err).Msg("llmengine: sse decode error")
			break
		}
		if len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		choices, _ := m["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		choice, _ := choices[0].(map[string]any)
		delta, _ := choice["delta"].(map[string]any)
		content := toString(delta["content"])
		if content == "" {
			continue
		}
		if !firstTokenSent {
			metricTTFTMs.Observe(float64(time.Since(start).Milliseconds()))
			firstTokenSent = true
		}
		payload, err := structpb.NewStruct(map[string]interface{}{"text": content, "done": false})
		if err != nil {
			return err
		}
		if err := stream.Send(&rpc.ControlResponse{Ok: true, Payload: payload}); err != nil {
			return nil
		}
	}

	metricRequestLatencyMs.WithLabelValues("generate", "ok").Observe(float64(time.Since(start).Milliseconds()))
	donePayload, err := structpb.NewStruct(map[string]interface{}{"text": "", "done": true})
	if err != nil {
		return err
	}
	return stream.Send(&rpc.ControlResponse{Ok: true, Payload: donePayload})
}

type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r *bufio.Reader) *sseDecoder { return &sseDecoder{r: r} }

// Next returns (event, data) for one dispatched SSE frame. Azure rarely sets
// "event:"; callers key off data only.
func (d *sseDecoder) Next() (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			return "", nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			event = strings.TrimSpace(string(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		}
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
