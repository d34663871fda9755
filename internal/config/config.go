// Package config loads process configuration via viper, following
// internal/config/config.go's shape (SetDefault/BindEnv/manual
// struct population) extended to the full configuration table plus sidecar
// connection blocks.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"turnmesh/internal/logging"
)

// Config is the process-level configuration surface.
type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}

	Session struct {
		MaxConcurrentSessions int
		IdleTimeoutSeconds    int
	}

	LLM struct {
		MaxContextTokens int
		PrefixCaching    bool
		SidecarAddr      string
	}

	Audio struct {
		PacketMs  int
		OverlapMs int
	}

	Animation struct {
		Enabled        bool
		DropIfLagMs    int
		SlowFreezeMs   int
		SidecarAddr    string
	}

	Contracts struct {
		TTFATargetMs            int
		BargeInCancelMs         int
		TurnPreFirstAudioTimeoutMs int
	}

	Sidecars struct {
		STTAddr string
		TTSAddr string
	}

	Auth struct {
		WorkerSecret string
	}

	RateLimit struct {
		RPS   int
		Burst int
	}

	Telemetry struct {
		OTelExporterEndpoint string
	}

	Knowledge struct {
		DSN             string
		EmbeddingsURL   string
		EmbeddingsKey   string
		EmbeddingsModel string
		Dims            int
	}
}

// Load reads configuration from environment (and an optional .env file,
// loaded by the caller via godotenv before Load runs) with the defaults
// below applied for anything unset.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("session.max_concurrent_sessions", 100)
	v.SetDefault("session.idle_timeout_seconds", 300)

	v.SetDefault("llm.max_context_tokens", 8192)
	v.SetDefault("llm.prefix_caching", true)

	v.SetDefault("audio.packet_ms", 20)
	v.SetDefault("audio.overlap_ms", 5)

	v.SetDefault("animation.enabled", true)
	v.SetDefault("animation.drop_if_lag_ms", 120)
	v.SetDefault("animation.slow_freeze_ms", 150)

	v.SetDefault("contracts.ttfa_target_ms", 250)
	v.SetDefault("contracts.barge_in_cancel_ms", 150)
	v.SetDefault("contracts.turn_pre_first_audio_timeout_ms", 500)

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("knowledge.embeddings_model", "text-embedding-3-small")
	v.SetDefault("knowledge.embedding_dims", 1536)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("session.max_concurrent_sessions", "MAX_CONCURRENT_SESSIONS")
	v.BindEnv("session.idle_timeout_seconds", "SESSION_IDLE_TIMEOUT_S")

	v.BindEnv("llm.max_context_tokens", "LLM_MAX_CONTEXT_TOKENS")
	v.BindEnv("llm.prefix_caching", "LLM_PREFIX_CACHING")
	v.BindEnv("llm.sidecar_addr", "LLM_SIDECAR_ADDR")

	v.BindEnv("audio.packet_ms", "AUDIO_PACKET_MS")
	v.BindEnv("audio.overlap_ms", "AUDIO_OVERLAP_MS")

	v.BindEnv("animation.enabled", "ANIMATION_ENABLED")
	v.BindEnv("animation.drop_if_lag_ms", "ANIMATION_DROP_IF_LAG_MS")
	v.BindEnv("animation.slow_freeze_ms", "ANIMATION_SLOW_FREEZE_MS")
	v.BindEnv("animation.sidecar_addr", "ANIMATION_SIDECAR_ADDR")

	v.BindEnv("contracts.ttfa_target_ms", "TTFA_TARGET_MS")
	v.BindEnv("contracts.barge_in_cancel_ms", "BARGE_IN_CANCEL_MS")
	v.BindEnv("contracts.turn_pre_first_audio_timeout_ms", "TURN_PRE_FIRST_AUDIO_TIMEOUT_MS")

	v.BindEnv("sidecars.stt_addr", "STT_SIDECAR_ADDR")
	v.BindEnv("sidecars.tts_addr", "TTS_SIDECAR_ADDR")

	v.BindEnv("auth.worker_secret", "WORKER_AUTH_SECRET")

	v.BindEnv("ratelimit.rps", "RATE_LIMIT_RPS")
	v.BindEnv("ratelimit.burst", "RATE_LIMIT_BURST")

	v.BindEnv("telemetry.otel_exporter_endpoint", "OTEL_EXPORTER_ENDPOINT")
	v.BindEnv("knowledge.dsn", "KNOWLEDGE_DSN")
	v.BindEnv("knowledge.embeddings_url", "KNOWLEDGE_EMBEDDINGS_URL")
	v.BindEnv("knowledge.embeddings_key", "KNOWLEDGE_EMBEDDINGS_KEY")
	v.BindEnv("knowledge.embeddings_model", "KNOWLEDGE_EMBEDDINGS_MODEL")
	v.BindEnv("knowledge.embedding_dims", "KNOWLEDGE_EMBEDDING_DIMS")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Session.MaxConcurrentSessions = v.GetInt("session.max_concurrent_sessions")
	c.Session.IdleTimeoutSeconds = v.GetInt("session.idle_timeout_seconds")

	c.LLM.MaxContextTokens = v.GetInt("llm.max_context_tokens")
	c.LLM.PrefixCaching = v.GetBool("llm.prefix_caching")
	c.LLM.SidecarAddr = v.GetString("llm.sidecar_addr")

	c.Audio.PacketMs = v.GetInt("audio.packet_ms")
	c.Audio.OverlapMs = v.GetInt("audio.overlap_ms")

	c.Animation.Enabled = v.GetBool("animation.enabled")
	c.Animation.DropIfLagMs = v.GetInt("animation.drop_if_lag_ms")
	c.Animation.SlowFreezeMs = v.GetInt("animation.slow_freeze_ms")
	c.Animation.SidecarAddr = v.GetString("animation.sidecar_addr")

	c.Contracts.TTFATargetMs = v.GetInt("contracts.ttfa_target_ms")
	c.Contracts.BargeInCancelMs = v.GetInt("contracts.barge_in_cancel_ms")
	c.Contracts.TurnPreFirstAudioTimeoutMs = v.GetInt("contracts.turn_pre_first_audio_timeout_ms")

	c.Sidecars.STTAddr = v.GetString("sidecars.stt_addr")
	c.Sidecars.TTSAddr = v.GetString("sidecars.tts_addr")

	c.Auth.WorkerSecret = v.GetString("auth.worker_secret")

	c.RateLimit.RPS = v.GetInt("ratelimit.rps")
	c.RateLimit.Burst = v.GetInt("ratelimit.burst")

	c.Telemetry.OTelExporterEndpoint = v.GetString("telemetry.otel_exporter_endpoint")
	c.Knowledge.DSN = v.GetString("knowledge.dsn")
	c.Knowledge.EmbeddingsURL = v.GetString("knowledge.embeddings_url")
	c.Knowledge.EmbeddingsKey = v.GetString("knowledge.embeddings_key")
	c.Knowledge.EmbeddingsModel = v.GetString("knowledge.embeddings_model")
	c.Knowledge.Dims = v.GetInt("knowledge.embedding_dims")

	cfgLog := logging.For("config")
	cfgLog.Info().
		Str("port", c.Server.Port).
		Int("max_concurrent_sessions", c.Session.MaxConcurrentSessions).
		Msg("config loaded")
	return c
}

// Validate fails fast on configuration the turn pipeline cannot run without.
func (c Config) Validate() error {
	if c.LLM.MaxContextTokens > 8192 {
		return fmt.Errorf("llm.max_context_tokens %d exceeds hard cap 8192", c.LLM.MaxContextTokens)
	}
	if c.Audio.PacketMs != 20 {
		return fmt.Errorf("audio.packet_ms must be fixed at 20, got %d", c.Audio.PacketMs)
	}
	if c.Audio.OverlapMs != 5 {
		return fmt.Errorf("audio.overlap_ms must be fixed at 5, got %d", c.Audio.OverlapMs)
	}
	if c.Session.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("session.max_concurrent_sessions must be positive")
	}
	return nil
}

func toString(v any) string { return fmt.Sprint(v) }
