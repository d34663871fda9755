package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"turnmesh/internal/animengine"
	"turnmesh/internal/logging"
	"turnmesh/internal/rpc"
)

var (
	addr      = flag.String("addr", ":9094", "animation sidecar listen addr")
	httpProbe = flag.String("http", ":8085", "http addr for health/ready/metrics probes")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()
	log := logging.For("animation-sidecar")

	fps := 30
	if v := os.Getenv("ANIMATION_TARGET_FPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fps = n
		}
	}
	engine := animengine.NewEngine(animengine.Config{TargetFPS: fps})

	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{MinTime: 10 * time.Second, PermitWithoutStream: true}

	s := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
	rpc.RegisterControlServer(s, engine)

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok\n")) })
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok\n")) })
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", *httpProbe).Msg("probes/metrics listening")
		_ = http.ListenAndServe(*httpProbe, mux)
	}()

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopCh
		log.Info().Msg("shutdown signal received, draining")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() { s.GracefulStop(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
			s.Stop()
		}
	}()

	log.Info().Str("addr", *addr).Msg("animation sidecar listening")
	if err := s.Serve(l); err != nil {
		log.Fatal().Err(err).Msg("grpc serve")
	}
}
