package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ad/docs-qa/internal/metrics"
	"github.com/ad/docs-qa/internal/pipeline"
	"github.com/ad/docs-qa/internal/ratelimit"
)

const (
	maxBodyBytes = 1 << 20
	maxBatchSize = 64
	pingTimeout  = 5 * time.Second
)

// Answerer runs the question-answering pipeline.
type Answerer interface {
	Run(ctx context.Context, question string) (pipeline.State, error)
	Stream(ctx context.Context, question string, emit func(pipeline.Event) error) (pipeline.State, error)
}

// Pinger checks that the provider is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexInfo describes the loaded document index.
type IndexInfo interface {
	Count() int
	Dimension() int
}

type Options struct {
	// BatchConcurrency bounds the questions of one batch request answered at once.
	BatchConcurrency int
	// Limiter throttles /agent requests per client address; nil disables it.
	Limiter *ratelimit.Limiter
	// Metrics enables /metrics and request counters; nil disables them.
	Metrics *metrics.Metrics
	// Info is echoed on the root endpoint.
	Info map[string]string
}

// Server exposes the pipeline over HTTP.
type Server struct {
	answerer Answerer
	provider Pinger
	index    IndexInfo
	opts     Options
	log      zerolog.Logger
	handler  http.Handler
}

func New(answerer Answerer, provider Pinger, index IndexInfo, opts Options, log zerolog.Logger) *Server {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	s := &Server{
		answerer: answerer,
		provider: provider,
		index:    index,
		opts:     opts,
		log:      log.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("POST /agent/invoke", s.limited(http.HandlerFunc(s.handleInvoke)))
	mux.Handle("POST /agent/batch", s.limited(http.HandlerFunc(s.handleBatch)))
	mux.Handle("POST /agent/stream", s.limited(http.HandlerFunc(s.handleStream)))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	s.handler = s.logRequests(cors(mux))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts at most maxConns concurrent connections on ln until ctx is done, then
// shuts down gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, maxConns int, shutdownTimeout time.Duration) error {
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Int("max_connections", maxConns).Msg("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
