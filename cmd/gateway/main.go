package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/intent"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/mcp"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/server"
	"github.com/voicegate-lab/internal/speech"
	"github.com/voicegate-lab/internal/worker"
	"github.com/voicegate-lab/llm"
)

func main() {
	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}

	cfg, err := config.Load(os.Getenv("VOICEGATE_CONFIG"))
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// Provider lookups fail fast before anything listens.
	stt, err := providers.STT.New(cfg.Providers.STT, cfg.Providers)
	if err != nil {
		sugar.Fatalf("stt provider: %v", err)
	}
	tts, err := providers.TTS.New(cfg.Providers.TTS, cfg.Providers)
	if err != nil {
		sugar.Fatalf("tts provider: %v", err)
	}
	var voiceprint providers.VoicePrintIdentifier
	if cfg.Providers.Voiceprint != "" {
		voiceprint, err = providers.Voiceprint.New(cfg.Providers.Voiceprint, cfg.Providers)
		if err != nil {
			sugar.Fatalf("voiceprint provider: %v", err)
		}
	}
	classifier, err := providers.Intent.New(cfg.Providers.Intent, cfg.Providers)
	if err != nil {
		sugar.Fatalf("intent provider: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := worker.New(cfg.Workers.PoolSize, cfg.Workers.QueueSize)
	defer pool.Close()

	tools := intent.NewToolRegistry()
	if cfg.MCPURL != "" {
		mcpClient := mcp.NewClient("voicegate", "1.0.0")
		if err := mcpClient.Connect(ctx, cfg.MCPURL); err != nil {
			sugar.Warnw("mcp unavailable, continuing without external tools", "error", err)
		} else {
			defer mcpClient.Close()
			if err := mcpClient.RegisterTools(ctx, tools); err != nil {
				sugar.Warnw("mcp tool registration failed", "error", err)
			}
		}
	}

	cache := speech.NewWakeCache(cfg.Wake, tts.VoiceID())
	router := intent.NewRouter(cfg, classifier, tools, cache, tts, pool)
	engine := server.NewDialogueEngine(llm.NewClientFromEnv())

	srv, err := server.New(cfg, server.Deps{
		STT:        stt,
		TTS:        tts,
		Voiceprint: voiceprint,
		Router:     router,
		Engine:     engine,
		Pool:       pool,
	})
	if err != nil {
		sugar.Fatalf("server: %v", err)
	}
	go srv.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/v1/ws", srv)

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}

	go func() {
		sugar.Infow("admin listening", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("admin server failed", "error", err)
		}
	}()
	go func() {
		sugar.Infow("gateway listening", "addr", cfg.ListenAddr, "path", "/v1/ws")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	sugar.Infow("shutdown complete")
}
