package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"turnmesh/internal/adapters"
	"turnmesh/internal/api"
	"turnmesh/internal/backpressure"
	"turnmesh/internal/config"
	"turnmesh/internal/knowledge"
	"turnmesh/internal/logging"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/ratelimit"
	"turnmesh/internal/rpc"
	"turnmesh/internal/sessionmgr"
	"turnmesh/internal/telemetry"
	"turnmesh/internal/transport"
	"turnmesh/internal/types"
)

// orchestrator owns one Pipeline per admitted Session — the process-wide
// composition root that the old code split across cmd/server (REST+worker ws)
// and cmd/orchestrator (conversation loop); this module's single
// orchestrator process folds both back together.
type orchestrator struct {
	cfg            config.Config
	sessions       *sessionmgr.Manager
	registry       *transport.Registry
	bp             *backpressure.Controller
	retriever      *knowledge.Retriever
	knowledgeStore *knowledge.Store

	llmConn  *grpc.ClientConn
	ttsConn  *grpc.ClientConn
	animConn *grpc.ClientConn

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.For("orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{ServiceName: "turnmesh-orchestrator"})
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing provider")
	}
	defer shutdownTracing(context.Background())

	o, err := newOrchestrator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}
	defer o.Close()

	reg := o.registry
	h := api.NewHandlers(cfg, o.sessions, o.pipelineFor, o.retriever)
	limiter := ratelimit.New(ratelimit.Config{RPS: float64(cfg.RateLimit.RPS), Burst: cfg.RateLimit.Burst})
	router := api.NewRouter(h, limiter)

	mux := http.NewServeMux()
	mux.Handle("/", router)
	transportSrv := transport.NewServer(o.sessions, reg, o.pipelineFor, cfg.Auth.WorkerSecret)
	mux.HandleFunc("/ws/client", transportSrv.HandleClientWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received, draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("orchestrator listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newOrchestrator(ctx context.Context, cfg config.Config) (*orchestrator, error) {
	bp := backpressure.New("process", cfg.Session.MaxConcurrentSessions)
	sessions := sessionmgr.New(cfg.Session.MaxConcurrentSessions, bp)

	llmConn, err := dialSidecar(cfg.LLM.SidecarAddr)
	if err != nil {
		return nil, err
	}
	ttsConn, err := dialSidecar(cfg.Sidecars.TTSAddr)
	if err != nil {
		return nil, err
	}
	animConn, err := dialSidecar(cfg.Animation.SidecarAddr)
	if err != nil {
		return nil, err
	}

	var retriever *knowledge.Retriever
	var knowledgeStore *knowledge.Store
	if cfg.Knowledge.DSN == "" {
		kLog := logging.For("knowledge")
		kLog.Warn().Msg("no knowledge DSN configured; tenant grounding disabled")
	} else {
		knowledgeStore, err = knowledge.Open(ctx, cfg.Knowledge.DSN, cfg.Knowledge.Dims)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
		embedder := knowledge.NewHTTPEmbedder(cfg.Knowledge.EmbeddingsURL, cfg.Knowledge.EmbeddingsKey, cfg.Knowledge.EmbeddingsModel, cfg.Knowledge.Dims)
		retriever = knowledge.NewRetriever(knowledgeStore, embedder)
	}

	o := &orchestrator{
		cfg:            cfg,
		sessions:       sessions,
		registry:       transport.NewRegistry(),
		bp:             bp,
		retriever:      retriever,
		knowledgeStore: knowledgeStore,
		llmConn:        llmConn,
		ttsConn:        ttsConn,
		animConn:       animConn,
		pipelines:      make(map[string]*pipeline.Pipeline),
	}
	return o, nil
}

func dialSidecar(addr string) (*grpc.ClientConn, error) {
	if addr == "" {
		return nil, nil
	}
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// pipelineFor lazily builds the Pipeline for an admitted session on first
// reference, then serves it from the cache — api and transport both need it
// by session id, but only one of them (whichever connects first) should pay
// for construction.
func (o *orchestrator) pipelineFor(sessionID string) *pipeline.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pl, ok := o.pipelines[sessionID]; ok {
		return pl
	}
	sess := o.sessions.Get(sessionID)
	if sess == nil {
		return nil
	}
	pl := o.buildPipeline(sess)
	o.pipelines[sessionID] = pl
	return pl
}

func (o *orchestrator) buildPipeline(sess *types.Session) *pipeline.Pipeline {
	asr := adapters.NewStreamingASRAdapter(adapters.StreamingASRConfig{
		BaseURL: o.cfg.Sidecars.STTAddr,
	})

	var llm adapters.LLMAdapter = adapters.NewRPCLLMAdapter(rpc.NewClient(o.llmConn))
	var tts adapters.TTSAdapter = adapters.NewRPCTTSAdapter(rpc.NewClient(o.ttsConn))
	var anim adapters.AnimationAdapter = adapters.NewRPCAnimationAdapter(rpc.NewClient(o.animConn))

	sinks := o.registry.Sinks(context.Background(), sess.ID)

	pl := pipeline.New(pipeline.Config{
		SessionID:  sess.ID,
		ASR:        asr,
		LLM:        llm,
		TTS:        tts,
		Animation:  anim,
		BP:         o.bp,
		ContextBuf: sess.Context,
		Sinks:      sinks,
		MaxTokens:  o.cfg.LLM.MaxContextTokens,
	})
	pl.StartHeartbeat(context.Background())
	return pl
}

// Close releases the sidecar connections and the knowledge store pool.
// Individual Pipelines hold no closable resources of their own beyond what
// these connections back.
func (o *orchestrator) Close() {
	for _, conn := range []*grpc.ClientConn{o.llmConn, o.ttsConn, o.animConn} {
		if conn != nil {
			_ = conn.Close()
		}
	}
	if o.knowledgeStore != nil {
		o.knowledgeStore.Close()
	}
}
