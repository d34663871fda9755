// Package pipeline wires one Turn's stages together: ASR transcript ->
// LLM generation -> sentence-boundary TTS -> packetized audio -> animation,
// with the cancellation controller, FSM, backpressure ladder, and context
// manager all attached per Session.
//
// Shaped after internal/orchestrator/conversation.go
// (ASR-final -> startLLM -> per-sentence StartTTS forwarding), reshaped from
// a single long-lived gRPC stream handler into channel-connected stage
// goroutines under one golang.org/x/sync/errgroup per Turn, so a stage error
// or cancellation tears down its siblings instead of leaking goroutines.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"turnmesh/internal/adapters"
	"turnmesh/internal/animation"
	"turnmesh/internal/audioclock"
	"turnmesh/internal/backpressure"
	"turnmesh/internal/cancel"
	"turnmesh/internal/constants"
	"turnmesh/internal/contextmgr"
	"turnmesh/internal/fsm"
	"turnmesh/internal/logging"
	"turnmesh/internal/types"
	"turnmesh/internal/vad"
)

// Sinks are the pipeline's outbound edges, supplied by the transport layer.
type Sinks struct {
	// OnAudioPacket is called for every outbound audio packet, in order.
	OnAudioPacket func(types.AudioPacket)
	// OnBlendshapeFrame is called for every animation frame, including heartbeats.
	OnBlendshapeFrame func(types.BlendshapeFrame)
	// OnPartialTranscript is called for interim ASR results (UI echo only).
	OnPartialTranscript func(adapters.TranscriptEvent)
}

// Pipeline owns one Session's live stage wiring. A Session's ActiveTurn
// governs how many Turns may run concurrently: at most one, per the data
// model's ownership rule.
type Pipeline struct {
	sessionID string

	FSM    *fsm.FSM
	Cancel *cancel.Controller
	BP     *backpressure.Controller
	Ctx    *contextmgr.Manager
	VAD    *vad.Detector
	Clock  *audioclock.Clock

	asr  adapters.ASRAdapter
	llm  adapters.LLMAdapter
	tts  adapters.TTSAdapter
	anim adapters.AnimationAdapter

	heartbeat *animation.Emitter
	sinks     Sinks

	mu          sync.Mutex
	packetizers map[string]*audioclock.Packetizer
	defaultMax  int
}

// Config bundles the per-session adapter set and sinks a Pipeline needs.
type Config struct {
	SessionID  string
	ASR        adapters.ASRAdapter
	LLM        adapters.LLMAdapter
	TTS        adapters.TTSAdapter
	Animation  adapters.AnimationAdapter
	BP         *backpressure.Controller
	ContextBuf *types.ContextBuffer
	Summarizer contextmgr.Summarizer
	Sinks      Sinks
	MaxTokens  int
}

// New wires every per-session component together: the cancellation
// controller is constructed first since the FSM takes a dependency on it,
// and every stage's Cancel handler is registered before the Pipeline is
// returned so a barge-in mid-construction can never race an unregistered
// stage.
func New(cfg Config) *Pipeline {
	cancelCtl := cancel.NewController(cfg.SessionID)
	clock := audioclock.New()

	summarizer := cfg.Summarizer
	if summarizer == nil {
		summarizer = &llmSummarizer{llm: cfg.LLM}
	}

	p := &Pipeline{
		sessionID:   cfg.SessionID,
		FSM:         fsm.New(cfg.SessionID, cancelCtl),
		Cancel:      cancelCtl,
		BP:          cfg.BP,
		Ctx:         contextmgr.New(cfg.SessionID, cfg.ContextBuf, summarizer),
		VAD:         vad.New(vad.DefaultConfig()),
		Clock:       clock,
		asr:         cfg.ASR,
		llm:         cfg.LLM,
		tts:         cfg.TTS,
		anim:        cfg.Animation,
		sinks:       cfg.Sinks,
		packetizers: make(map[string]*audioclock.Packetizer),
		defaultMax:  cfg.MaxTokens,
	}

	p.heartbeat = animation.NewEmitter(cfg.SessionID, animation.DefaultHeartbeatConfig(), func(f types.BlendshapeFrame) {
		if p.sinks.OnBlendshapeFrame != nil {
			p.sinks.OnBlendshapeFrame(f)
		}
	})

	p.Cancel.Register(types.StageASR, func(reason types.CancelReason, tEventMs int64) {
		_ = p.asr.Cancel(cfg.SessionID)
	})
	p.Cancel.Register(types.StageLLM, func(reason types.CancelReason, tEventMs int64) {
		_ = p.llm.Cancel(cfg.SessionID)
	})
	p.Cancel.Register(types.StageTTS, func(reason types.CancelReason, tEventMs int64) {
		_ = p.tts.Cancel(cfg.SessionID)
	})
	p.Cancel.Register(types.StagePacketizer, func(reason types.CancelReason, tEventMs int64) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, pz := range p.packetizers {
			pz.Cancel()
		}
	})
	p.Cancel.Register(types.StageAnimation, func(reason types.CancelReason, tEventMs int64) {
		_ = p.anim.Cancel(cfg.SessionID)
	})

	return p
}

// StartHeartbeat begins the 100ms animation heartbeat loop for this session.
func (p *Pipeline) StartHeartbeat(ctx context.Context) {
	p.heartbeat.Start(ctx, p.Clock.Now())
}

// StopHeartbeat halts the heartbeat loop, used when the session ends.
func (p *Pipeline) StopHeartbeat() {
	p.heartbeat.Stop()
}

// StartTurn opens turnID's ASR stream. It must be called once, before the
// turn's first FeedAudio, so SendAudio and ConsumeTranscripts have a live
// connection to write to and read from.
func (p *Pipeline) StartTurn(ctx context.Context, turnID string) error {
	if err := p.asr.Start(ctx, turnID); err != nil {
		return fmt.Errorf("pipeline: start asr turn: %w", err)
	}
	return nil
}

// FeedAudio runs one inbound audio frame through VAD, handling barge-in via
// the FSM and forwarding the frame to the ASR adapter for the active turn.
// rms is computed by the caller (internal/transport owns raw PCM framing).
func (p *Pipeline) FeedAudio(turnID string, pcm []byte, rms float64, now time.Time) error {
	switch p.VAD.Process(rms, now) {
	case vad.EventSpeechStart:
		if _, err := p.FSM.HandleUserSpeechStart(p.Clock.Now()); err != nil {
			return err
		}
	case vad.EventSpeechEnd:
		if _, err := p.FSM.HandleUserSpeechEnd(p.Clock.Now()); err != nil {
			return err
		}
	}

	if err := p.asr.SendAudio(turnID, pcm); err != nil {
		return fmt.Errorf("pipeline: forward audio to asr: %w", err)
	}
	return nil
}

// ConsumeTranscripts drains the ASR adapter's transcript channel for turnID,
// running a full RunTurn on each final transcript and forwarding interim
// ones to the UI sink. Intended to run for the lifetime of one Turn.
func (p *Pipeline) ConsumeTranscripts(ctx context.Context, turnID string) error {
	for evt := range p.asr.Transcripts(turnID) {
		if !evt.Final {
			if p.sinks.OnPartialTranscript != nil {
				p.sinks.OnPartialTranscript(evt)
			}
			continue
		}
		if err := p.RunTurn(ctx, turnID, evt.Text); err != nil {
			return err
		}
	}
	return nil
}

// RunTurn drives one LLM generation + TTS + animation cycle for userText,
// already transcribed. The FSM must already be in THINKING (FeedAudio puts it
// there via HandleUserSpeechEnd when VAD detects the end of speech).
func (p *Pipeline) RunTurn(ctx context.Context, turnID string, userText string) error {
	log := logging.Session("pipeline", p.sessionID, turnID)

	p.Ctx.AddUser(userText)
	if err := p.Ctx.EnsureWithinBudget(ctx); err != nil {
		log.Warn().Err(err).Msg("context rollover failed, continuing with unrolled window")
	}

	maxTokens := p.defaultMax
	if p.BP != nil {
		maxTokens = p.BP.MaxTokens(p.defaultMax)
	}

	pz := audioclock.NewPacketizer(p.sessionID, p.Clock)
	p.mu.Lock()
	p.packetizers[turnID] = pz
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.packetizers, turnID)
		p.mu.Unlock()
	}()

	sentences := make(chan string, 4)
	var fullResponse strings.Builder
	firstAudio := make(chan struct{})
	var firstAudioOnce sync.Once

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.generateLoop(gctx, turnID, maxTokens, sentences, &fullResponse)
	})
	g.Go(func() error {
		return p.synthesizeLoop(gctx, turnID, pz, sentences, func() { firstAudioOnce.Do(func() { close(firstAudio) }) })
	})
	g.Go(func() error {
		return p.watchPreFirstAudio(gctx, turnID, firstAudio)
	})

	err := g.Wait()

	if fired, reason, _ := p.Cancel.Token().Fired(); fired {
		log.Info().Str("reason", string(reason)).Msg("turn ended via cancellation")
		return nil
	}
	if err != nil {
		return err
	}

	if fullResponse.Len() > 0 {
		p.Ctx.AddAssistant(fullResponse.String())
	}
	_, ferr := p.FSM.HandleResponseComplete(p.Clock.Now())
	return ferr
}

// generateLoop streams LLM tokens, splitting completed sentences onto the
// sentences channel for immediate synthesis (pipelined, matching the old
// per-sentence StartTTS forwarding instead of waiting for the whole
// response).
func (p *Pipeline) generateLoop(ctx context.Context, turnID string, maxTokens int, sentences chan<- string, full *strings.Builder) error {
	defer close(sentences)

	tokens, err := p.llm.Generate(ctx, turnID, toAdapterMessages(p.Ctx.Messages()), maxTokens)
	if err != nil {
		return fmt.Errorf("pipeline: llm generate: %w", err)
	}

	var buf strings.Builder
	for tok := range tokens {
		if tok.Err != nil {
			return fmt.Errorf("pipeline: llm stream: %w", tok.Err)
		}
		buf.WriteString(tok.Text)
		full.WriteString(tok.Text)

		if endsSentence(tok.Text) {
			s := strings.TrimSpace(buf.String())
			if s != "" {
				select {
				case sentences <- s:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			buf.Reset()
		}
		if tok.Done {
			break
		}
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		select {
		case sentences <- rest:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// llmSummarizer adapts adapters.LLMAdapter's text-in/text-out Summarize
// call to contextmgr.Summarizer's entries-in shape, the only place the two
// signatures need reconciling.
type llmSummarizer struct {
	llm adapters.LLMAdapter
}

func (s *llmSummarizer) Summarize(ctx context.Context, entries []types.ContextEntry) (string, error) {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return s.llm.Summarize(ctx, b.String())
}

func toAdapterMessages(entries []types.ContextEntry) []adapters.Message {
	out := make([]adapters.Message, len(entries))
	for i, e := range entries {
		out[i] = adapters.Message{Role: e.Role, Content: e.Text}
	}
	return out
}

func endsSentence(tok string) bool {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return false
	}
	switch tok[len(tok)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

// synthesizeLoop consumes completed sentences in order, synthesizing and
// packetizing each before moving to the next so the output audio stream
// stays strictly ordered; the first sentence triggers the FSM's
// THINKING->SPEAKING transition, and onFirstAudio fires once the first
// packet of the turn is emitted.
func (p *Pipeline) synthesizeLoop(ctx context.Context, turnID string, pz *audioclock.Packetizer, sentences <-chan string, onFirstAudio func()) error {
	started := false
	for sentence := range sentences {
		if !started {
			if _, err := p.FSM.HandleResponseReady(p.Clock.Now()); err != nil {
				return err
			}
			started = true
		}

		pcmCh, err := p.tts.Synthesize(ctx, turnID, sentence)
		if err != nil {
			return fmt.Errorf("pipeline: tts synthesize: %w", err)
		}
		for pcm := range pcmCh {
			for _, pkt := range pz.Process(pcm) {
				p.emit(turnID, pkt)
				onFirstAudio()
			}
		}
	}

	for _, pkt := range pz.Flush() {
		p.emit(turnID, pkt)
		onFirstAudio()
	}
	return nil
}

// watchPreFirstAudio cancels the turn's stages via the CancellationToken if
// no audio packet has been emitted within TurnPreFirstAudioTimeout of the
// turn starting — one of the six testable-property seed scenarios.
func (p *Pipeline) watchPreFirstAudio(ctx context.Context, turnID string, firstAudio <-chan struct{}) error {
	select {
	case <-firstAudio:
		return nil
	case <-ctx.Done():
		return nil
	case <-time.After(constants.TurnPreFirstAudioTimeout):
		p.Cancel.Cancel(types.ReasonTimeout, int64(p.Clock.Now()))
		log := logging.Session("pipeline", p.sessionID, turnID)
		var err error
		if p.FSM.State() == types.StateSpeaking {
			// The first sentence already moved the FSM to SPEAKING, but no
			// packet has been emitted yet.
			_, err = p.FSM.TransitionTo(types.StateListening, "pre_first_audio_timeout", p.Clock.Now())
		} else {
			_, err = p.FSM.HandlePreFirstAudioTimeout(p.Clock.Now())
		}
		if err != nil {
			log.Warn().Err(err).Msg("pre-first-audio timeout fsm transition failed")
		}
		log.Info().Msg("turn_timeout")
		return nil
	}
}

// emit publishes one outbound audio packet and, unless the backpressure
// ladder is currently yielding animation, drives the animation adapter with
// the same packet so lip movement stays time-aligned to audio.
func (p *Pipeline) emit(turnID string, pkt types.AudioPacket) {
	if p.sinks.OnAudioPacket != nil {
		p.sinks.OnAudioPacket(pkt)
	}
	p.heartbeat.FrameSent(pkt.TAudioMs)

	if p.BP != nil && p.BP.State().AnimationYieldActive {
		return
	}
	frame, err := p.anim.DriveAudio(turnID, pkt.Payload, pkt.TAudioMs)
	if err != nil {
		pl := logging.Session("pipeline", p.sessionID, turnID)
		pl.Warn().Err(err).Msg("animation drive_audio failed")
		return
	}
	if p.sinks.OnBlendshapeFrame != nil {
		p.sinks.OnBlendshapeFrame(frame)
	}
}
