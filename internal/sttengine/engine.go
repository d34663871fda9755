// Package sttengine is the transcription sidecar: a websocket relay standing
// between a client-facing turn and a Deepgram-compatible streaming ASR
// backend. Unlike internal/llmengine/internal/ttsengine/internal/animengine,
// it does not speak internal/rpc — adapters.StreamingASRAdapter dials a
// plain websocket per turn (see internal/adapters/asr.go's dialURL), so this
// sidecar exposes that same query-string contract and relays frames rather
// than wrapping them in a control-plane envelope.
//
// Grounded on the old internal/stt/{server.go,session.go,deepgram.go}: the
// upstream dial, circuit-breaker bookkeeping, and idle reaping are
// carried over near-verbatim, generalized from one long-lived session
// connection to one relay per turn (StreamingASRAdapter opens a fresh
// websocket for each turn rather than multiplexing turns over one
// connection, so there is no Start/Audio/Drain/Close envelope to parse —
// the upgrade itself is the start, and the close is the end).
package sttengine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"turnmesh/internal/logging"
)

// Config points the relay at an upstream streaming-transcription backend.
type Config struct {
	UpstreamURL string // e.g. wss://api.deepgram.com/v1/listen
	APIKey      string
	IdleTTL     time.Duration
}

const defaultUpstreamURL = "wss://api.deepgram.com/v1/listen"

// Server accepts one websocket connection per turn and relays it to the
// configured upstream backend, forwarding binary audio frames one direction
// and JSON transcript frames the other.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*relaySession

	fails   []time.Time
	circuit time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = defaultUpstreamURL
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 60 * time.Second
	}
	s := &Server{cfg: cfg, sessions: make(map[string]*relaySession)}
	go s.reaper()
	return s
}

var log = logging.For("sttengine")

type relaySession struct {
	turnID   string
	lastAct  time.Time
	cancel   context.CancelFunc
}

// HandleWS accepts a client media connection, opens the matching upstream
// connection with the caller's model/language/endpointing query parameters
// forwarded, and pumps frames between the two until either side closes.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	turnID := newTurnID()
	turnLog := logging.Session("sttengine", "", turnID)

	client, err := websocket.Accept(w, r, nil)
	if err != nil {
		turnLog.Warn().Err(err).Msg("client accept failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sess := &relaySession{turnID: turnID, lastAct: time.Now(), cancel: cancel}
	s.mu.Lock()
	s.sessions[turnID] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, turnID)
		s.mu.Unlock()
		cancel()
	}()
	gaugeSessions.Inc()
	defer gaugeSessions.Dec()

	upstream, err := s.dialUpstream(ctx, r.URL.Query())
	if err != nil {
		turnLog.Warn().Err(err).Msg("upstream dial failed")
		client.Close(websocket.StatusInternalError, "upstream unavailable")
		return
	}
	defer upstream.Close(websocket.StatusNormalClosure, "turn complete")

	turnLog.Info().Msg("stt turn relay started")

	done := make(chan struct{}, 2)
	go s.pump(ctx, turnLog, sess, "client->upstream", client, upstream, done)
	go s.pump(ctx, turnLog, sess, "upstream->client", upstream, client, done)
	<-done

	client.Close(websocket.StatusNormalClosure, "turn complete")
	turnLog.Info().Msg("stt turn relay ended")
}

// pump copies frames of the given type from src to dst until either side
// errors or ctx is cancelled, then signals done exactly once.
func (s *Server) pump(ctx context.Context, turnLog zerolog.Logger, sess *relaySession, direction string, src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		if ctx.Err() != nil {
			return
		}
		gotType, data, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				turnLog.Debug().Err(err).Str("direction", direction).Msg("relay read ended")
			}
			return
		}
		sess.lastAct = time.Now()
		if gotType == websocket.MessageBinary {
			metricAudioBytes.Add(float64(len(data)))
			metricFrames.Inc()
		}
		wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
		err = dst.Write(wctx, gotType, data)
		wcancel()
		if err != nil {
			turnLog.Debug().Err(err).Str("direction", direction).Msg("relay write failed")
			return
		}
	}
}

// dialUpstream builds the Deepgram-compatible query string (linear16 PCM,
// fixed sample rate/channels, caller-chosen model/language/endpointing) and
// dials once with the circuit-breaker bookkeeping the old
// internal/stt/deepgram.go kept per-connection; a failed dial is not retried.
func (s *Server) dialUpstream(ctx context.Context, callerQuery url.Values) (*websocket.Conn, error) {
	if s.circuitOpen() {
		return nil, fmt.Errorf("sttengine: circuit open")
	}

	q := url.Values{}
	for _, key := range []string{"model", "language", "interim_results", "endpointing", "utterance_end_ms", "vad_events"} {
		if v := callerQuery.Get(key); v != "" {
			q.Set(key, v)
		}
	}
	if q.Get("model") == "" {
		q.Set("model", "nova-2")
	}
	if q.Get("language") == "" {
		q.Set("language", "en-US")
	}
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")

	dialURL := s.cfg.UpstreamURL + "?" + q.Encode()

	hdr := make(http.Header)
	if s.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+s.cfg.APIKey)
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	conn, _, err := websocket.Dial(dctx, dialURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		s.addFailure()
		return nil, err
	}
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
	s.resetFailures()
	return conn, nil
}

func (s *Server) circuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.circuit)
}

func (s *Server) addFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = append(s.fails, time.Now())
	cutoff := time.Now().Add(-60 * time.Second)
	j := 0
	for _, t := range s.fails {
		if t.After(cutoff) {
			s.fails[j] = t
			j++
		}
	}
	s.fails = s.fails[:j]
	if len(s.fails) >= 3 {
		s.circuit = time.Now().Add(30 * time.Second)
		metricCircuitOpens.Inc()
	}
}

func (s *Server) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = nil
}

// reaper cancels any relay whose connections have gone quiet past IdleTTL —
// a backstop for turns whose client or upstream socket wedges without an
// error, since Read never returns on its own in that case.
func (s *Server) reaper() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for id, sess := range s.sessions {
			if time.Since(sess.lastAct) >= s.cfg.IdleTTL {
				sess.cancel()
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}

func newTurnID() string {
	return "stt-" + time.Now().UTC().Format("150405.000000000")
}

// Ready reports whether the relay can accept new turns (always true; there
// is no warm-up state to wait on).
func (s *Server) Ready() bool { return true }
