// Package contextmgr owns the LLM Context Manager: pinned prefix + rolling
// window + session-state summary, with rollover at 7500 tokens against an
// 8192-token hard cap.
//
// Grounded on original_source/orchestrator/context_rollover.py's
// ContextWindow (estimate_tokens, needs_rollover, _perform_rollover), split
// here into the data shape (types.ContextBuffer) and this stateless-ish
// manager, keeping data and behavior in the same
// struct only for its narrower in-memory stores (internal/store/store.go).
package contextmgr

import (
	"context"
	"fmt"

	"turnmesh/internal/constants"
	"turnmesh/internal/logging"
	"turnmesh/internal/types"
)

// Summarizer condenses evicted rolling-window turns into a short summary.
// The pipeline wires this to the LLM adapter's dedicated, bounded
// summarization call (a separate request from the turn's own generation).
type Summarizer interface {
	Summarize(ctx context.Context, entries []types.ContextEntry) (string, error)
}

// Manager drives rollover for one session's ContextBuffer.
type Manager struct {
	buf        *types.ContextBuffer
	summarizer Summarizer
	sessionID  string
}

// New constructs a Manager around an already-initialized ContextBuffer
// (its PinnedPrefix/PinnedPrefixToks populated by the caller at session
// start from the system prompt).
func New(sessionID string, buf *types.ContextBuffer, summarizer Summarizer) *Manager {
	return &Manager{buf: buf, summarizer: summarizer, sessionID: sessionID}
}

// EstimateTokens uses the same ~4-chars-per-token heuristic as the source
// system; a production deployment would swap this for a real tokenizer
// without changing the rollover contract.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// AddUser appends a user turn to the rolling window.
func (m *Manager) AddUser(text string) types.ContextEntry {
	e := types.ContextEntry{Role: "user", Text: text, Tokens: EstimateTokens(text)}
	m.buf.Append(e)
	return e
}

// AddAssistant appends an assistant turn to the rolling window.
func (m *Manager) AddAssistant(text string) types.ContextEntry {
	e := types.ContextEntry{Role: "assistant", Text: text, Tokens: EstimateTokens(text)}
	m.buf.Append(e)
	return e
}

// NeedsRollover reports whether the buffer has crossed the 7500-token
// rollover threshold.
func (m *Manager) NeedsRollover() bool {
	return m.buf.TotalTokens() >= constants.ContextRolloverThreshold
}

// Rollover summarizes the older half of the rolling window and folds it
// into SessionStateBlock, evicting those entries. It enforces the 5s
// summarization deadline: on timeout or summarizer error it returns an
// error and leaves the buffer untouched, so the caller can reject the new
// turn per the context-overflow contract rather than silently truncating.
func (m *Manager) Rollover(ctx context.Context) error {
	entries := m.buf.Snapshot()
	if len(entries) < 4 {
		return nil
	}

	split := len(entries) / 2
	toSummarize := entries[:split]
	toKeep := entries[split:]

	cctx, cancel := context.WithTimeout(ctx, constants.SummarizationDeadline)
	defer cancel()

	cmLog := logging.Session("contextmgr", m.sessionID, "")
	summary, err := m.summarizer.Summarize(cctx, toSummarize)
	if err != nil {
		cmLog.Warn().Err(err).Msg("context summarization failed, turn must be rejected")
		return fmt.Errorf("context summarization failed: %w", err)
	}

	m.buf.ApplyRollover(summary, toKeep, EstimateTokens(summary))
	cmLog.Info().Int("summarized_entries", len(toSummarize)).Int("kept_entries", len(toKeep)).
		Msg("context rollover applied")
	return nil
}

// EnsureWithinBudget triggers a rollover if needed, to be called before
// assembling messages for a new LLM turn.
func (m *Manager) EnsureWithinBudget(ctx context.Context) error {
	if !m.NeedsRollover() {
		return nil
	}
	return m.Rollover(ctx)
}

// Messages assembles the full ordered message list for the LLM call:
// pinned prefix, optional session-state summary, then the rolling window.
func (m *Manager) Messages() []types.ContextEntry {
	out := make([]types.ContextEntry, 0, len(m.buf.Snapshot())+2)
	if p := m.buf.PinnedPrefix; p != "" {
		out = append(out, types.ContextEntry{Role: "system", Text: p, Tokens: m.buf.PinnedPrefixToks})
	}
	if s := m.buf.SessionStateBlock; s != "" {
		out = append(out, types.ContextEntry{
			Role:   "system",
			Text:   "[Session Context Summary]\n" + s,
			Tokens: m.buf.SessionStateToks,
		})
	}
	out = append(out, m.buf.Snapshot()...)
	return out
}
