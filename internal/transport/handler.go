package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"turnmesh/internal/auth"
	"turnmesh/internal/logging"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/sessionmgr"
)

const tokenSkewSeconds = 30

// InboundFrame is the wire shape of a client-originated message. Audio
// arrives as binary websocket frames (raw PCM16), everything else
// (control messages, client-reported clock) as a text JSON frame of this
// shape.
type InboundFrame struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id,omitempty"`
	Control string `json:"control,omitempty"`
}

// Server accepts client-facing media connections, authenticates them
// against a session admitted by sessionmgr.Manager, and bridges audio in /
// packets out to that session's Pipeline. It plays the role the old
// workerws.Server plays for worker connections, generalized from a single
// JSON Message envelope to an audio/control split and wired to a live
// Pipeline instead of an append-only event log.
type Server struct {
	Sessions    *sessionmgr.Manager
	Registry    *Registry
	Pipelines   PipelineLookup
	TokenSecret string
}

// PipelineLookup resolves the live Pipeline for a session. SessionManager
// composes one Pipeline per admitted session; this indirection lets the
// transport layer stay decoupled from how that map is kept.
type PipelineLookup func(sessionID string) *pipeline.Pipeline

func NewServer(sessions *sessionmgr.Manager, reg *Registry, lookup PipelineLookup, tokenSecret string) *Server {
	return &Server{Sessions: sessions, Registry: reg, Pipelines: lookup, TokenSecret: tokenSecret}
}

// HandleClientWS accepts a client media connection for an already-admitted
// session, validates its bearer token, then bridges inbound audio/control
// frames to the session's Pipeline until the connection closes.
func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	sess := s.Sessions.Get(sessionID)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	pl := s.Pipelines(sessionID)
	if pl == nil {
		http.Error(w, "session not ready", http.StatusServiceUnavailable)
		return
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if s.TokenSecret == "" {
		http.Error(w, "client auth not configured", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if _, err := auth.ValidateWorkerToken(s.TokenSecret, token, sessionID, sess.Config.TenantGrounding, time.Now(), tokenSkewSeconds); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		acceptLog := logging.Session("transport", sessionID, "")
		acceptLog.Error().Err(err).Msg("ws accept failed")
		return
	}

	log := logging.Session("transport", sessionID, "")
	s.Registry.Replace(sessionID, conn)
	log.Info().Msg("client connected")

	ctx := r.Context()
	turnID := ""
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		switch typ {
		case websocket.MessageBinary:
			rms := rmsOf(data)
			if turnID == "" {
				next := newTurnID(sessionID)
				if err := pl.StartTurn(ctx, next); err != nil {
					log.Warn().Err(err).Msg("start turn failed")
					continue
				}
				turnID = next
				go s.consumeTurn(ctx, pl, sessionID, turnID)
			}
			if err := pl.FeedAudio(turnID, data, rms, time.Now()); err != nil {
				log.Warn().Err(err).Msg("feed audio failed")
			}
		case websocket.MessageText:
			frame, ok := decodeInbound(data)
			if !ok {
				continue
			}
			if frame.Control == "end_turn" {
				turnID = ""
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")
	s.Registry.Remove(sessionID, conn)
	log.Info().Msg("client disconnected")
}

// consumeTurn drains turnID's final transcripts into RunTurn for the
// lifetime of the turn. Without this running somewhere, FeedAudio's ASR
// ingest has nowhere for its output to go — LLM/TTS/animation never fire.
func (s *Server) consumeTurn(ctx context.Context, pl *pipeline.Pipeline, sessionID, turnID string) {
	log := logging.Session("transport", sessionID, turnID)
	if err := pl.ConsumeTranscripts(ctx, turnID); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("turn pipeline exited with error")
	}
}

// rmsOf treats data as little-endian signed 16-bit PCM and returns its
// root-mean-square amplitude, the same measure the animation sidecar's
// audio-driven viseme extraction uses upstream.
func rmsOf(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}

func newTurnID(sessionID string) string {
	return sessionID + "-" + time.Now().UTC().Format("150405.000000000")
}

func decodeInbound(data []byte) (InboundFrame, bool) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, false
	}
	return f, true
}
