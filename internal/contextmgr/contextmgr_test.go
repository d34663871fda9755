package contextmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"turnmesh/internal/types"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, entries []types.ContextEntry) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func bufWithPinned(pinnedTokens int) *types.ContextBuffer {
	return &types.ContextBuffer{
		PinnedPrefix:     "you are a helpful assistant",
		PinnedPrefixToks: pinnedTokens,
	}
}

func TestNeedsRolloverAtThresholdBoundary(t *testing.T) {
	buf := bufWithPinned(0)
	m := New("sess-1", buf, &stubSummarizer{summary: "s"})

	buf.Append(types.ContextEntry{Role: "user", Text: "x", Tokens: 7499})
	if m.NeedsRollover() {
		t.Fatalf("7499 tokens must not trigger rollover")
	}
	buf.Append(types.ContextEntry{Role: "user", Text: "x", Tokens: 1})
	if !m.NeedsRollover() {
		t.Fatalf("7500 tokens must trigger rollover")
	}
}

func TestRolloverFoldsOldestHalfIntoSummary(t *testing.T) {
	buf := bufWithPinned(0)
	summarizer := &stubSummarizer{summary: "earlier turns recap"}
	m := New("sess-1", buf, summarizer)

	for i := 0; i < 8; i++ {
		m.AddUser("hello there this is turn content")
	}
	before := len(buf.Snapshot())

	if err := m.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	after := len(buf.Snapshot())
	if after >= before {
		t.Fatalf("expected rolling window to shrink after rollover: before=%d after=%d", before, after)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarize call, got %d", summarizer.calls)
	}
	if !strings.Contains(buf.SessionStateBlock, "earlier turns recap") {
		t.Fatalf("expected summary folded into SessionStateBlock, got %q", buf.SessionStateBlock)
	}
}

func TestRolloverLeavesBufferUntouchedOnSummarizerError(t *testing.T) {
	buf := bufWithPinned(0)
	summarizer := &stubSummarizer{err: errors.New("llm unavailable")}
	m := New("sess-1", buf, summarizer)

	for i := 0; i < 8; i++ {
		m.AddUser("turn content")
	}
	before := buf.Snapshot()

	if err := m.Rollover(context.Background()); err == nil {
		t.Fatalf("expected rollover to fail when summarizer errors")
	}
	after := buf.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("buffer must be untouched on summarization failure")
	}
}

func TestRolloverSkipsSummarizationWhenTooFewEntries(t *testing.T) {
	buf := bufWithPinned(0)
	summarizer := &stubSummarizer{summary: "s"}
	m := New("sess-1", buf, summarizer)

	m.AddUser("one")
	m.AddAssistant("two")

	if err := m.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if summarizer.calls != 0 {
		t.Fatalf("expected rollover to skip summarization below the minimum entry count")
	}
}

func TestMessagesOrdersPinnedSummaryThenRolling(t *testing.T) {
	buf := bufWithPinned(3)
	buf.SessionStateBlock = "recap"
	buf.SessionStateToks = 2
	m := New("sess-1", buf, &stubSummarizer{})
	m.AddUser("latest question")

	msgs := m.Messages()
	if msgs[0].Role != "system" || msgs[0].Text != buf.PinnedPrefix {
		t.Fatalf("expected pinned prefix first, got %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Text, "recap") {
		t.Fatalf("expected session summary second, got %+v", msgs[1])
	}
	if msgs[2].Role != "user" {
		t.Fatalf("expected rolling window entries last, got %+v", msgs[2])
	}
}
