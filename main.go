package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ad/docs-qa/internal/app"
	"github.com/ad/docs-qa/internal/metrics"
	"github.com/ad/docs-qa/internal/ratelimit"
	"github.com/ad/docs-qa/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	rt, err := app.Bootstrap(ctx, *configPath, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	cfg, log := rt.Config, rt.Log
	m.SetIndexChunks(rt.Index.Count())

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := rt.Provider.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("provider", rt.Provider.Name()).Msg("provider not reachable yet")
	}
	pingCancel()

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimitInterval > 0 {
		limiter = ratelimit.New(cfg.Server.RateLimitInterval)
		go pruneLimiter(ctx, limiter, cfg.Server.RateLimitInterval)
	}

	srv := server.New(rt.Pipeline, rt.Provider, rt.Index, server.Options{
		BatchConcurrency: cfg.Server.BatchConcurrency,
		Limiter:          limiter,
		Metrics:          m,
		Info: map[string]string{
			"provider":        rt.Provider.Name(),
			"model":           cfg.Provider.ChatModel,
			"embedding_model": cfg.Provider.EmbeddingModel,
		},
	}, log)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Server.ListenAddr).Msg("failed to listen")
	}

	log.Info().Int("chunks", rt.Index.Count()).Str("model", cfg.Provider.ChatModel).Msg("LangSmith Q&A agent ready")
	if err := srv.Serve(ctx, ln, cfg.Server.MaxConnections, cfg.Server.ShutdownTimeout); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration) {
	ticker := time.NewTicker(max(every, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
