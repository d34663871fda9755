package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turnmesh/internal/logging"
	"turnmesh/internal/sttengine"
)

var (
	addr      = flag.String("addr", ":9091", "stt sidecar listen addr")
	httpProbe = flag.String("http", ":8082", "http addr for health/ready/metrics probes")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()
	log := logging.For("stt-sidecar")

	engine := sttengine.NewServer(sttengine.Config{
		UpstreamURL: os.Getenv("DEEPGRAM_WS_URL"),
		APIKey:      os.Getenv("DEEPGRAM_API_KEY"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/transcribe", engine.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok\n")) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if engine.Ready() {
			w.Write([]byte("ok\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopCh
		log.Info().Msg("shutdown signal received, draining")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Str("addr", *addr).Msg("stt sidecar listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http serve")
	}
}
