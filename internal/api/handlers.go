package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"turnmesh/internal/auth"
	"turnmesh/internal/config"
	"turnmesh/internal/contextmgr"
	"turnmesh/internal/knowledge"
	"turnmesh/internal/logging"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/sessionmgr"
	"turnmesh/internal/types"
)

// PipelineLookup resolves the live Pipeline driving an admitted session, so
// /cancel can reach its CancellationController without the api package
// depending on however cmd/orchestrator keeps that map. Deliberately the
// same shape as transport.PipelineLookup — the two packages meet at
// cmd/orchestrator, not at each other.
type PipelineLookup func(sessionID string) *pipeline.Pipeline

type Handlers struct {
	cfg       config.Config
	sessions  *sessionmgr.Manager
	pipelines PipelineLookup
	knowledge *knowledge.Retriever
}

// NewHandlers wires the REST surface together. knowledgeRetriever may be nil
// (knowledge.DSN unset) — sessions then admit with an empty PinnedPrefix.
func NewHandlers(cfg config.Config, sessions *sessionmgr.Manager, pipelines PipelineLookup, knowledgeRetriever *knowledge.Retriever) *Handlers {
	return &Handlers{cfg: cfg, sessions: sessions, pipelines: pipelines, knowledge: knowledgeRetriever}
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleCreateSession admits a new session. A capacity or backpressure
// rejection surfaces as 503 with Retry-After, distinguishing "try later"
// from a client error.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg types.SessionConfig
	if r.Body != nil {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid session config", http.StatusBadRequest)
			return
		}
	}

	id := uuid.New().String()
	sess, err := h.sessions.Admit(r.Context(), id, cfg)
	if err != nil {
		switch err {
		case sessionmgr.ErrAtCapacity:
			w.Header().Set("Retry-After", "5")
			http.Error(w, "at capacity", http.StatusServiceUnavailable)
		case sessionmgr.ErrSessionExists:
			http.Error(w, "session already exists", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.groundSession(r.Context(), sess)

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State,
	})
}

// groundSession folds the session's tenant-grounding corpus into
// ContextBuffer.PinnedPrefix once, at session open (spec §2.3: PinnedPrefix
// is never edited mid-turn). A retrieval failure logs and leaves the
// session ungrounded rather than failing admission over it.
func (h *Handlers) groundSession(ctx context.Context, sess *types.Session) {
	if h.knowledge == nil || sess.Config.TenantGrounding == "" {
		return
	}
	tenant := sess.Config.TenantGrounding
	results, err := h.knowledge.Query(ctx, tenant, tenant)
	if err != nil {
		apiLog := logging.For("api")
		apiLog.Warn().Err(err).Str("tenant", tenant).Msg("knowledge retrieval failed, session starts ungrounded")
		return
	}
	prefix := h.knowledge.FormatContext(results)
	if prefix == "" {
		return
	}
	sess.WithLock(func() {
		sess.Context.PinnedPrefix = prefix
		sess.Context.PinnedPrefixToks = contextmgr.EstimateTokens(prefix)
	})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.sessions.Get(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	var resp map[string]any
	sess.WithLock(func() {
		resp = map[string]any{
			"session_id":     sess.ID,
			"state":          sess.State,
			"turns_done":     sess.TurnsDone,
			"barge_in_count": sess.BargeInCount,
			"created_at":     sess.CreatedAt,
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if h.sessions.Get(id) == nil {
		http.NotFound(w, r)
		return
	}
	h.sessions.Release(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelSession is the explicit user STOP path (spec §6): it fires
// the session's CancellationController with ReasonUserStop rather than
// waiting for a barge-in or timeout to do it implicitly.
func (h *Handlers) HandleCancelSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.sessions.Get(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	pl := h.pipelines(id)
	if pl == nil {
		http.Error(w, "session not ready", http.StatusServiceUnavailable)
		return
	}
	tEventMs := int64(pl.Clock.Now())
	pl.Cancel.Cancel(types.ReasonUserStop, tEventMs)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleListEvents returns a page of the session's event log, newest-last,
// shaped after the old HandleListEvents but with limit/offset added —
// that version always returned the full (bounded) log.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.sessions.Get(id) == nil {
		http.NotFound(w, r)
		return
	}
	events := h.sessions.ListEvents(id)

	limit := queryInt(r, "limit", len(events))
	offset := queryInt(r, "offset", 0)
	if offset > len(events) {
		offset = len(events)
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     events[offset:end],
		"total":      len(events),
	})
}

// HandleMintWSCreds issues a short-lived bearer token for the session's
// client to authenticate its media websocket against internal/transport,
// the same HMAC scheme used for worker tokens.
func (h *Handlers) HandleMintWSCreds(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.sessions.Get(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	if h.cfg.Auth.WorkerSecret == "" {
		http.Error(w, "auth not configured", http.StatusInternalServerError)
		return
	}
	exp := time.Now().Add(10 * time.Minute).Unix()
	token, err := auth.GenerateWorkerToken(h.cfg.Auth.WorkerSecret, auth.Claims{
		SessionID:       id,
		TenantGrounding: sess.Config.TenantGrounding,
		ExpUnix:         exp,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
