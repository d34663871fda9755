package transport

import (
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"turnmesh/internal/adapters"
	"turnmesh/internal/auth"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/sessionmgr"
	"turnmesh/internal/types"
)

// fakeASR is a minimal adapters.ASRAdapter recording which turns were
// started and audio sent, so HandleClientWS's turn-open wiring can be
// asserted without a real ASR backend.
type fakeASR struct {
	mu       sync.Mutex
	started  []string
	sent     [][]byte
	eventsCh chan adapters.TranscriptEvent
}

func newFakeASR() *fakeASR {
	return &fakeASR{eventsCh: make(chan adapters.TranscriptEvent, 4)}
}

func (f *fakeASR) Kind() adapters.Kind { return adapters.KindASR }
func (f *fakeASR) Start(ctx context.Context, turnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, turnID)
	return nil
}
func (f *fakeASR) Cancel(turnID string) error { return nil }
func (f *fakeASR) Health(ctx context.Context) adapters.HealthStatus {
	return adapters.HealthStatus{Healthy: true}
}
func (f *fakeASR) SendAudio(turnID string, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pcm)
	return nil
}
func (f *fakeASR) Transcripts(turnID string) <-chan adapters.TranscriptEvent { return f.eventsCh }

func (f *fakeASR) startedTurns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.started))
	copy(out, f.started)
	return out
}

func newTestServer(t *testing.T, tokenSecret string, admitSession bool, withPipeline bool) (*Server, *sessionmgr.Manager) {
	t.Helper()
	mgr := sessionmgr.New(10, nil)
	if admitSession {
		if _, err := mgr.Admit(context.Background(), "sess-1", types.SessionConfig{}); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	var lookup PipelineLookup = func(sessionID string) *pipeline.Pipeline { return nil }
	if withPipeline {
		pl := pipeline.New(pipeline.Config{SessionID: "sess-1", ContextBuf: &types.ContextBuffer{}})
		lookup = func(sessionID string) *pipeline.Pipeline { return pl }
	}
	return NewServer(mgr, NewRegistry(), lookup, tokenSecret), mgr
}

func TestHandleClientWSRejectsMissingSessionID(t *testing.T) {
	s, _ := newTestServer(t, "secret", true, true)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	s.HandleClientWS(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleClientWSRejectsUnknownSession(t *testing.T) {
	s, _ := newTestServer(t, "secret", false, true)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=ghost", nil)
	s.HandleClientWS(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleClientWSRejectsMissingBearerToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", true, true)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=sess-1", nil)
	s.HandleClientWS(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleClientWSRejectsInvalidToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", true, true)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=sess-1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	s.HandleClientWS(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleClientWSAcceptsValidToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", true, true)
	tok, err := auth.GenerateWorkerToken("secret", auth.Claims{SessionID: "sess-1", ExpUnix: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(s.HandleClientWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"?session_id=sess-1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
}

func TestHandleClientWSOpensTurnOnFirstBinaryFrame(t *testing.T) {
	mgr := sessionmgr.New(10, nil)
	if _, err := mgr.Admit(context.Background(), "sess-1", types.SessionConfig{}); err != nil {
		t.Fatalf("admit: %v", err)
	}
	asr := newFakeASR()
	pl := pipeline.New(pipeline.Config{SessionID: "sess-1", ASR: asr, ContextBuf: &types.ContextBuffer{}})
	var lookup PipelineLookup = func(sessionID string) *pipeline.Pipeline { return pl }
	s := NewServer(mgr, NewRegistry(), lookup, "secret")

	tok, err := auth.GenerateWorkerToken("secret", auth.Claims{SessionID: "sess-1", ExpUnix: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(s.HandleClientWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"?session_id=sess-1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(asr.startedTurns()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := asr.startedTurns(); len(got) != 1 {
		t.Fatalf("expected exactly one ASR turn started, got %+v", got)
	}
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	silence := make([]byte, 640)
	if rmsOf(silence) != 0 {
		t.Fatalf("expected zero rms for silence")
	}
}

func TestRMSOfConstantAmplitudeMatchesMagnitude(t *testing.T) {
	const amplitude = 5000
	pcm := make([]byte, 0, 64)
	for i := 0; i < 32; i++ {
		v := int16(amplitude)
		if i%2 == 1 {
			v = -amplitude
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		pcm = append(pcm, b...)
	}
	got := rmsOf(pcm)
	if math.Abs(got-amplitude) > 1 {
		t.Fatalf("expected rms ~= %d, got %v", amplitude, got)
	}
}

func TestDecodeInboundParsesControlFrame(t *testing.T) {
	f, ok := decodeInbound([]byte(`{"type":"control","control":"end_turn"}`))
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if f.Control != "end_turn" {
		t.Fatalf("unexpected control value: %q", f.Control)
	}
}

func TestDecodeInboundRejectsMalformedJSON(t *testing.T) {
	if _, ok := decodeInbound([]byte(`not json`)); ok {
		t.Fatalf("expected decode to fail")
	}
}
