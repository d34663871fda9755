package cancel

import (
	"sync/atomic"
	"testing"
	"time"

	"turnmesh/internal/types"
)

func TestCancelFansOutToAllStages(t *testing.T) {
	c := NewController("sess-1")

	var llmHit, ttsHit, animHit int32
	c.Register(types.StageLLM, func(types.CancelReason, int64) { atomic.AddInt32(&llmHit, 1) })
	c.Register(types.StageTTS, func(types.CancelReason, int64) { atomic.AddInt32(&ttsHit, 1) })
	c.Register(types.StageAnimation, func(types.CancelReason, int64) { atomic.AddInt32(&animHit, 1) })

	ok := c.Cancel(types.ReasonUserBargeIn, 1000)
	if !ok {
		t.Fatalf("expected all stages to acknowledge within deadline")
	}
	if atomic.LoadInt32(&llmHit) != 1 || atomic.LoadInt32(&ttsHit) != 1 || atomic.LoadInt32(&animHit) != 1 {
		t.Fatalf("expected every registered stage to be invoked exactly once")
	}

	fired, reason, tEvent := c.Token().Fired()
	if !fired || reason != types.ReasonUserBargeIn || tEvent != 1000 {
		t.Fatalf("token state mismatch: fired=%v reason=%v t=%d", fired, reason, tEvent)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	c := NewController("sess-1")
	var calls int32
	c.Register(types.StageLLM, func(types.CancelReason, int64) { atomic.AddInt32(&calls, 1) })

	first := c.Cancel(types.ReasonUserBargeIn, 500)
	second := c.Cancel(types.ReasonUserStop, 900)

	if !first {
		t.Fatalf("first cancel should succeed")
	}
	if second {
		t.Fatalf("second cancel on an already-fired token must be a no-op")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("handler must fire exactly once across both calls, got %d", calls)
	}
}

func TestCancelReportsSlowStageAsMissed(t *testing.T) {
	c := NewController("sess-1")
	c.Register(types.StageAnimation, func(types.CancelReason, int64) {
		time.Sleep(100 * time.Millisecond)
	})

	ok := c.Cancel(types.ReasonUserBargeIn, 0)
	if ok {
		t.Fatalf("expected Cancel to report a missed deadline for a stage that overruns its budget")
	}
}

func TestResetAllowsNewTurnCancel(t *testing.T) {
	c := NewController("sess-1")
	c.Cancel(types.ReasonUserBargeIn, 0)
	c.Reset()
	if c.IsCancelled() {
		t.Fatalf("expected fresh token after Reset to be unfired")
	}
	if ok := c.Cancel(types.ReasonUserStop, 100); !ok {
		t.Fatalf("expected cancel on the reset token to succeed")
	}
}
