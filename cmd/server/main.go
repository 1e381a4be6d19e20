package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexterra/transcribe-gateway/internal/config"
	"github.com/lexterra/transcribe-gateway/internal/gateway"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/orchestrator"
	"github.com/lexterra/transcribe-gateway/internal/postprocess"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Transcribe Gateway starting")

	orch := orchestrator.New(cfg)
	handler := gateway.NewHandler(orch, postprocess.NewClient(cfg))

	mux := http.NewServeMux()
	handler.Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness reports per-provider credential availability. No API
	// calls are made; a missing key is the only local reason a provider
	// cannot serve.
	keyCheck := func(key, field string) observability.HealthCheckFunc {
		return func(ctx context.Context) (bool, error) {
			if key == "" {
				return false, fmt.Errorf("%s is not set", field)
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"gemini":     keyCheck(cfg.GeminiAPIKey, "GEMINI_API_KEY"),
		"openai":     keyCheck(cfg.OpenAIAPIKey, "OPENAI_API_KEY"),
		"assemblyai": keyCheck(cfg.AssemblyAIAPIKey, "ASSEMBLYAI_API_KEY"),
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Write timeout stays generous: a synchronous transcription response
	// can take minutes on long media.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
