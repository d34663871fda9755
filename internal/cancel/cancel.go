// Package cancel fans a CANCEL event out to every pipeline stage within its
// per-stage deadline, completing the whole fan-out inside the barge-in
// budget.
//
// Grounded on original_source/orchestrator/cancellation.py's
// CancellationController (register/cancel/reset), reshaped around Go
// goroutines + a WaitGroup racing time.After per handler instead of
// asyncio.wait with one shared timeout, so a slow TTS handler cannot starve
// animation's own deadline.
package cancel

import (
	"sync"
	"time"

	"turnmesh/internal/constants"
	"turnmesh/internal/logging"
	"turnmesh/internal/types"
)

// Handler is a stage's cancel hook. It must return promptly; Controller
// abandons it (but lets it keep running) once its deadline elapses.
type Handler func(reason types.CancelReason, tEventMs int64)

type registration struct {
	stage    types.StageName
	deadline time.Duration
	fn       Handler
}

// stageDeadlines mirrors the per-stage cancel budgets that must sum to at
// most the 150ms barge-in contract.
var stageDeadlines = map[types.StageName]time.Duration{
	types.StageLLM:        constants.LLMCancelDeadline,
	types.StageTTS:        constants.TTSCancelDeadline,
	types.StagePacketizer: constants.PacketizerDrainDeadline,
	types.StageAnimation:  constants.AnimationCancelDeadline,
}

// Controller propagates CANCEL to every registered stage handler and tracks
// which stages acknowledged before the overall deadline.
type Controller struct {
	mu        sync.Mutex
	sessionID string
	token     *types.CancellationToken
	handlers  []registration
}

// NewController constructs a controller with a fresh CancellationToken.
func NewController(sessionID string) *Controller {
	return &Controller{
		sessionID: sessionID,
		token:     types.NewCancellationToken(),
	}
}

// Token exposes the underlying CancellationToken for stages that poll it
// directly instead of registering a push handler.
func (c *Controller) Token() *types.CancellationToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Register adds a stage handler. Its deadline is the stage's entry in
// stageDeadlines, or constants.BargeInDeadline if the stage has none (e.g.
// ASR, which only needs to stop forwarding frames).
func (c *Controller) Register(stage types.StageName, fn Handler) {
	deadline, ok := stageDeadlines[stage]
	if !ok {
		deadline = constants.BargeInDeadline
	}
	c.mu.Lock()
	c.handlers = append(c.handlers, registration{stage: stage, deadline: deadline, fn: fn})
	c.mu.Unlock()
}

// Cancel fires reason at tEventMs, fans it out to every registered handler
// concurrently, and waits up to constants.BargeInDeadline total for all
// stages to be observed. Returns true if every stage acknowledged within
// its own deadline. Idempotent: a second call returns false immediately and
// fans out nothing further, matching the token's Fire() semantics.
func (c *Controller) Cancel(reason types.CancelReason, tEventMs int64) bool {
	c.mu.Lock()
	token := c.token
	handlers := append([]registration{}, c.handlers...)
	c.mu.Unlock()

	if !token.Fire(reason, tEventMs) {
		return false
	}
	metricCancelTotal.WithLabelValues(string(reason)).Inc()

	log := logging.Session("cancel", c.sessionID, "")
	start := time.Now()

	var wg sync.WaitGroup
	allOK := true
	var okMu sync.Mutex

	for _, reg := range handlers {
		wg.Add(1)
		go func(reg registration) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				reg.fn(reason, tEventMs)
				close(done)
			}()
			select {
			case <-done:
				token.Observe(reg.stage)
			case <-time.After(reg.deadline):
				metricCancelStageTimeout.WithLabelValues(string(reg.stage)).Inc()
				log.Warn().Str("stage", string(reg.stage)).Msg("cancel stage missed deadline")
				okMu.Lock()
				allOK = false
				okMu.Unlock()
			}
		}(reg)
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(constants.BargeInDeadline):
		okMu.Lock()
		allOK = false
		okMu.Unlock()
	}

	elapsed := time.Since(start)
	metricBargeInLatencyMS.Observe(float64(elapsed.Milliseconds()))
	log.Debug().Dur("elapsed", elapsed).Bool("all_ok", allOK).Msg("cancel fan-out complete")
	return allOK
}

// Reset clears the token for a new turn.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.token = types.NewCancellationToken()
	c.mu.Unlock()
}

// IsCancelled reports whether the current token has fired.
func (c *Controller) IsCancelled() bool {
	fired, _, _ := c.Token().Fired()
	return fired
}
