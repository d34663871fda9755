package backpressure

import (
	"testing"

	"turnmesh/internal/types"
)

func TestStepsUpImmediatelyOnThresholdBreach(t *testing.T) {
	c := New("sess-1", 100)
	lvl := c.UpdateMetrics(Metrics{AnimationLagMs: 150})
	if lvl != types.BPAnimationYield {
		t.Fatalf("expected ANIMATION_YIELD, got %s", lvl)
	}
	if !c.State().AnimationYieldActive {
		t.Fatalf("expected animation yield active")
	}
}

func TestLadderOrderingPicksHighestBreachedLevel(t *testing.T) {
	c := New("sess-1", 100)
	lvl := c.UpdateMetrics(Metrics{AvgTTFAMs: 250, VRAMUsagePct: 98, ErrorRatePct: 6, ActiveSessions: 100})
	if lvl != types.BPSessionReject {
		t.Fatalf("expected SESSION_REJECT at max breach, got %s", lvl)
	}
	if !c.State().RejectingSessions {
		t.Fatalf("expected RejectingSessions true")
	}
	if !c.State().ToolsDisabled {
		t.Fatalf("expected ToolsDisabled true at SESSION_REJECT")
	}
}

func TestStepDownRequiresTwoConsecutiveClearSamples(t *testing.T) {
	c := New("sess-1", 100)
	c.UpdateMetrics(Metrics{AvgTTFAMs: 230}) // TOOL_REFUSE

	if lvl := c.UpdateMetrics(Metrics{}); lvl != types.BPToolRefuse {
		t.Fatalf("expected level to stay at TOOL_REFUSE after first clear sample, got %s", lvl)
	}
	if lvl := c.UpdateMetrics(Metrics{}); lvl != types.BPVerbosityReduce {
		t.Fatalf("expected level to drop one rung to VERBOSITY_REDUCE after second consecutive clear sample, got %s", lvl)
	}
}

func TestStepDownDescendsOneLevelPerHysteresisWindow(t *testing.T) {
	c := New("sess-1", 100)
	c.UpdateMetrics(Metrics{AvgTTFAMs: 250, VRAMUsagePct: 98, ErrorRatePct: 6, ActiveSessions: 100}) // SESSION_REJECT
	if lvl := c.State().Level; lvl != types.BPSessionReject {
		t.Fatalf("expected SESSION_REJECT, got %s", lvl)
	}

	wantRungs := []types.BackpressureLevel{
		types.BPSessionQueue,
		types.BPToolRefuse,
		types.BPVerbosityReduce,
		types.BPAnimationYield,
		types.BPNormal,
	}
	for _, want := range wantRungs {
		c.UpdateMetrics(Metrics{}) // 1st clear sample
		lvl := c.UpdateMetrics(Metrics{}) // 2nd clear sample, steps down one rung
		if lvl != want {
			t.Fatalf("expected to land on %s, got %s", want, lvl)
		}
	}
}

func TestStepDownResetsHysteresisOnRenewedBreach(t *testing.T) {
	c := New("sess-1", 100)
	c.UpdateMetrics(Metrics{AvgTTFAMs: 230}) // TOOL_REFUSE
	c.UpdateMetrics(Metrics{})               // 1st clear sample
	c.UpdateMetrics(Metrics{AvgTTFAMs: 230}) // breach again before 2nd clear sample

	if lvl := c.State().Level; lvl != types.BPToolRefuse {
		t.Fatalf("expected level to remain TOOL_REFUSE, got %s", lvl)
	}

	c.UpdateMetrics(Metrics{}) // 1st clear sample again, hysteresis must have reset
	if lvl := c.State().Level; lvl != types.BPToolRefuse {
		t.Fatalf("expected one clear sample insufficient after reset, got %s", lvl)
	}
}

func TestToolGatingAlwaysAllowsEssentialTools(t *testing.T) {
	c := New("sess-1", 100)
	c.UpdateMetrics(Metrics{AvgTTFAMs: 230}) // TOOL_REFUSE

	if !c.ShouldAllowTool("cancel") {
		t.Fatalf("essential tool cancel must always be allowed")
	}
	if c.ShouldAllowTool("search_web") {
		t.Fatalf("non-essential tool must be refused under TOOL_REFUSE")
	}
}

func TestMaxTokensOverride(t *testing.T) {
	c := New("sess-1", 100)
	if got := c.MaxTokens(512); got != 512 {
		t.Fatalf("expected default 512 at NORMAL, got %d", got)
	}
	c.UpdateMetrics(Metrics{AvgTTFAMs: 201})
	if got := c.MaxTokens(512); got != 384 {
		t.Fatalf("expected 384 override at VERBOSITY_REDUCE, got %d", got)
	}
}
