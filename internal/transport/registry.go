// Package transport carries the client-facing media connection: inbound
// audio frames from the browser/mobile client, and outbound audio packets,
// blendshape frames, and transcript events back to it. It plays the role
// internal/workerws plays for worker connections, widened
// from a single JSON Message envelope to the three outbound sink types the
// pipeline produces.
package transport

import (
	"context"
	"encoding/json"
	"sync"

	"nhooyr.io/websocket"

	"turnmesh/internal/logging"
)

// OutboundKind tags the wire envelope of a message sent to the client.
type OutboundKind string

const (
	KindAudioPacket       OutboundKind = "audio_packet"
	KindBlendshapeFrame   OutboundKind = "blendshape_frame"
	KindPartialTranscript OutboundKind = "partial_transcript"
	KindSessionEvent      OutboundKind = "session_event"
)

// Envelope is the JSON frame written to the client connection. Payload
// carries a type-specific struct, left as json.RawMessage so encode and
// decode stay decoupled from any one payload shape.
type Envelope struct {
	Kind    OutboundKind    `json:"kind"`
	TAudioMs uint32         `json:"t_audio_ms,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Registry tracks the single live client connection per session, mirroring
// workerws.Registry's replace-on-reconnect behavior: a new connection for a
// session closes out whatever was there before rather than accumulating
// stale sockets.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*websocket.Conn)}
}

// Replace installs conn as the active connection for sessionID, closing any
// connection it displaces.
func (r *Registry) Replace(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.conns[sessionID]
	r.conns[sessionID] = conn
	r.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}
}

func (r *Registry) Get(sessionID string) *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID]
}

// Remove clears sessionID's entry if it still points at conn. A stale
// Remove from an already-replaced connection's defer is a no-op.
func (r *Registry) Remove(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == conn {
		delete(r.conns, sessionID)
	}
}

// SendEnvelope writes env to sessionID's connection, if any. Returns false
// if there is no live connection to send on — this is the normal case for a
// client that briefly dropped mid-turn, not an error the caller should log
// loudly.
func (r *Registry) SendEnvelope(ctx context.Context, sessionID string, env Envelope) bool {
	conn := r.Get(sessionID)
	if conn == nil {
		return false
	}
	tLog := logging.Session("transport", sessionID, "")
	b, err := json.Marshal(env)
	if err != nil {
		tLog.Error().Err(err).Msg("marshal envelope failed")
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		tLog.Warn().Err(err).Msg("send to client failed")
		return false
	}
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
