package sessionmgr

import (
	"context"
	"testing"

	"turnmesh/internal/backpressure"
	"turnmesh/internal/types"
)

func TestAdmitRejectsDuplicateID(t *testing.T) {
	m := New(10, nil)
	ctx := context.Background()
	if _, err := m.Admit(ctx, "s1", types.SessionConfig{}); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := m.Admit(ctx, "s1", types.SessionConfig{}); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestAdmitRejectsAtCapacity(t *testing.T) {
	m := New(1, nil)
	ctx := context.Background()
	if _, err := m.Admit(ctx, "s1", types.SessionConfig{}); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := m.Admit(ctx, "s2", types.SessionConfig{}); err != ErrAtCapacity {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
}

func TestAdmitRespectsBackpressureSessionReject(t *testing.T) {
	bp := backpressure.New("global", 10)
	bp.UpdateMetrics(backpressure.Metrics{ActiveSessions: 10, AvgTTFAMs: 260})

	m := New(100, bp)
	if _, err := m.Admit(context.Background(), "s1", types.SessionConfig{}); err != ErrAtCapacity {
		t.Fatalf("expected backpressure to reject admission, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(10, nil)
	ctx := context.Background()
	m.Release(ctx, "never-admitted")
	if _, err := m.Admit(ctx, "s1", types.SessionConfig{}); err != nil {
		t.Fatalf("admit: %v", err)
	}
	m.Release(ctx, "s1")
	m.Release(ctx, "s1")
	if m.Count() != 0 {
		t.Fatalf("expected count 0 after release, got %d", m.Count())
	}
}

func TestAppendEventTruncatesOldestAndMarksDropped(t *testing.T) {
	m := New(10, nil)
	ctx := context.Background()
	if _, err := m.Admit(ctx, "s1", types.SessionConfig{}); err != nil {
		t.Fatalf("admit: %v", err)
	}
	for i := 0; i < maxEventsPerSession+5; i++ {
		if _, err := m.AppendEvent("s1", "tick", nil, 0); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	events := m.ListEvents("s1")
	if len(events) != maxEventsPerSession {
		t.Fatalf("expected log capped at %d, got %d", maxEventsPerSession, len(events))
	}
	last := events[len(events)-1]
	if last.EventType != "events_truncated" {
		t.Fatalf("expected trailing truncation marker, got %q", last.EventType)
	}
}

func TestAppendEventUnknownSessionErrors(t *testing.T) {
	m := New(10, nil)
	if _, err := m.AppendEvent("no-such-session", "tick", nil, 0); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSnapshotReflectsSessionState(t *testing.T) {
	m := New(10, nil)
	ctx := context.Background()
	sess, err := m.Admit(ctx, "s1", types.SessionConfig{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	sess.WithLock(func() {
		sess.TurnsDone = 3
		sess.BargeInCount = 1
	})

	rec, ok := m.Snapshot("s1")
	if !ok {
		t.Fatalf("expected snapshot to exist")
	}
	if rec.TurnsCompleted != 3 || rec.BargeInCount != 1 {
		t.Fatalf("unexpected snapshot: %+v", rec)
	}
}
