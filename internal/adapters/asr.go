package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"turnmesh/internal/logging"
)

// StreamingASRConfig parameterizes a websocket-based ASR backend. Field
// names mirror the old DGConfig; BaseURL/APIKey let this adapter
// target any streaming-transcription vendor exposing a similar wire
// protocol, not just one.
type StreamingASRConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Language      string
	Interim       bool
	EndpointingMs int
	SocketMaxAge  time.Duration
}

func (c StreamingASRConfig) dialURL() string {
	q := url.Values{}
	if c.Model != "" {
		q.Set("model", c.Model)
	}
	if c.Language != "" {
		q.Set("language", c.Language)
	}
	q.Set("interim_results", fmt.Sprintf("%t", c.Interim))
	if c.EndpointingMs > 0 {
		q.Set("endpointing", fmt.Sprintf("%d", c.EndpointingMs))
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	sep := "?"
	if strings.Contains(c.BaseURL, "?") {
		sep = "&"
	}
	return c.BaseURL + sep + q.Encode()
}

// StreamingASRAdapter maintains one websocket connection per turn to a
// streaming-transcription backend, dialing it with Reconnect's backoff; a
// read error once the connection is up ends the turn without reconnecting.
// Shaped after internal/stt/deepgram.go's connection
// loop, generalized behind adapters.ASRAdapter so the pipeline never knows
// which vendor it is talking to.
type StreamingASRAdapter struct {
	cfg StreamingASRConfig

	mu    sync.Mutex
	conns map[string]*asrTurnConn
}

type asrTurnConn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	events chan TranscriptEvent
}

// NewStreamingASRAdapter builds an adapter for the given backend config.
func NewStreamingASRAdapter(cfg StreamingASRConfig) *StreamingASRAdapter {
	return &StreamingASRAdapter{
		cfg:   cfg,
		conns: make(map[string]*asrTurnConn),
	}
}

func (a *StreamingASRAdapter) Kind() Kind { return KindASR }

// Start dials the backend for turnID, retrying with Reconnect's backoff,
// and spawns the receive loop that decodes transcript events.
func (a *StreamingASRAdapter) Start(ctx context.Context, turnID string) error {
	log := logging.Session("asr", "", turnID)
	turnCtx, cancel := context.WithCancel(ctx)

	tc := &asrTurnConn{
		cancel: cancel,
		events: make(chan TranscriptEvent, 32),
	}

	err := Reconnect(turnCtx, "asr", func(dialCtx context.Context) error {
		hdr := make(http.Header)
		if a.cfg.APIKey != "" {
			hdr.Set("Authorization", "Token "+a.cfg.APIKey)
		}
		dctx, dcancel := context.WithTimeout(dialCtx, 10*time.Second)
		defer dcancel()
		ws, _, err := websocket.Dial(dctx, a.cfg.dialURL(), &websocket.DialOptions{HTTPHeader: hdr})
		if err != nil {
			return err
		}
		tc.ws = ws
		return nil
	})
	if err != nil {
		cancel()
		return fmt.Errorf("asr: dial turn %s: %w", turnID, err)
	}

	a.mu.Lock()
	a.conns[turnID] = tc
	a.mu.Unlock()

	go a.recvLoop(turnCtx, turnID, tc)
	log.Info().Msg("asr turn started")
	return nil
}

func (a *StreamingASRAdapter) recvLoop(ctx context.Context, turnID string, tc *asrTurnConn) {
	log := logging.Session("asr", "", turnID)
	defer close(tc.events)
	defer func() {
		_ = tc.ws.Close(websocket.StatusNormalClosure, "turn complete")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := tc.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("asr read error, ending turn")
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		evt, ok := parseTranscript(turnID, m)
		if !ok {
			continue
		}
		select {
		case tc.events <- evt:
		default:
		}
	}
}

func parseTranscript(turnID string, m map[string]interface{}) (TranscriptEvent, bool) {
	channel, _ := m["channel"].(map[string]interface{})
	if channel == nil {
		return TranscriptEvent{}, false
	}
	alts, _ := channel["alternatives"].([]interface{})
	if len(alts) == 0 {
		return TranscriptEvent{}, false
	}
	alt0, _ := alts[0].(map[string]interface{})
	text := strings.TrimSpace(stringField(alt0, "transcript"))
	if text == "" {
		return TranscriptEvent{}, false
	}
	isFinal := boolField(m, "is_final") || boolField(m, "speech_final")
	confidence := 0.0
	if c, ok := alt0["confidence"].(float64); ok {
		confidence = c
	}
	return TranscriptEvent{
		TurnID:     turnID,
		Text:       text,
		Final:      isFinal,
		Confidence: confidence,
	}, true
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// SendAudio writes one PCM chunk to the turn's websocket.
func (a *StreamingASRAdapter) SendAudio(turnID string, pcm []byte) error {
	a.mu.Lock()
	tc, ok := a.conns[turnID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("asr: no active turn %s", turnID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tc.ws.Write(ctx, websocket.MessageBinary, pcm)
}

// Transcripts returns the turn's transcript event channel.
func (a *StreamingASRAdapter) Transcripts(turnID string) <-chan TranscriptEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	tc, ok := a.conns[turnID]
	if !ok {
		closed := make(chan TranscriptEvent)
		close(closed)
		return closed
	}
	return tc.events
}

// Cancel tears down the turn's connection immediately, independent of the
// Start context — this is the path the cancellation controller drives.
func (a *StreamingASRAdapter) Cancel(turnID string) error {
	a.mu.Lock()
	tc, ok := a.conns[turnID]
	delete(a.conns, turnID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	tc.cancel()
	return nil
}

// Health dials a lightweight probe connection and immediately closes it.
func (a *StreamingASRAdapter) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	hdr := make(http.Header)
	if a.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+a.cfg.APIKey)
	}
	ws, _, err := websocket.Dial(hctx, a.cfg.dialURL(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error(), Latency: time.Since(start)}
	}
	_ = ws.Close(websocket.StatusNormalClosure, "health check")
	return HealthStatus{Healthy: true, Detail: "ok", Latency: time.Since(start)}
}
