// Package app wires memlake's components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/memlake/internal/memlake/agent"
	"github.com/bdobrica/memlake/internal/memlake/config"
	"github.com/bdobrica/memlake/internal/memlake/httpapi"
	"github.com/bdobrica/memlake/internal/memlake/memory"
	"github.com/bdobrica/memlake/internal/memlake/observability"
	"github.com/bdobrica/memlake/internal/memlake/store"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "memlake"

// App is a running memlake instance.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend *Backend
	engine  *memory.Engine
	session *agent.Session
	metrics *observability.Metrics
	api     *httpapi.Server

	stopOnce sync.Once
	stopErr  error
}

// Backend is an opened topic index and whatever holds its storage open.
type Backend struct {
	Index *memory.TopicIndex
	Store memory.TopicStore
	db    *store.Store
}

// Close releases the storage.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// OpenBackend opens and loads the topic index selected by cfg.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{}
	switch cfg.Memory.Backend {
	case config.BackendSQLite:
		if err := ensureParentDir(cfg.Memory.DatabasePath); err != nil {
			return nil, err
		}
		db, err := store.New(ctx, cfg.Memory.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("app: open database: %w", err)
		}
		b.db = db
		b.Store = memory.NewSQLiteStore(db.DB(), cfg.Memory.WriteAttempts, logger)
	default:
		if err := ensureParentDir(cfg.Memory.IndexPath); err != nil {
			return nil, err
		}
		b.Store = memory.NewJSONFileStore(cfg.Memory.IndexPath, cfg.Memory.WriteAttempts, logger)
	}

	b.Index = memory.NewTopicIndex(b.Store, logger)
	if err := b.Index.Load(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("app: load topic index: %w", err)
	}
	return b, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("app: create %s: %w", dir, err)
	}
	return nil
}

// NewSummarizer returns the model-backed summarizer when an API key is
// configured and the offline heuristic one otherwise.
func NewSummarizer(cfg *config.Config, vocab *memory.Vocabulary) memory.Summarizer {
	if cfg.UseLLM() {
		return memory.NewLLMSummarizer(memory.LLMSummarizerConfig{
			APIKey:    cfg.Summarizer.APIKey,
			BaseURL:   cfg.Summarizer.BaseURL,
			Model:     cfg.Summarizer.Model,
			MaxTokens: cfg.Summarizer.MaxTokens,
		})
	}
	return memory.NewHeuristicSummarizer(vocab, cfg.Memory.UserLabel)
}

// EngineConfig maps the application config onto the engine's.
func EngineConfig(cfg *config.Config, vocab *memory.Vocabulary, metrics memory.Metrics) memory.EngineConfig {
	ec := memory.DefaultEngineConfig()
	ec.Threshold = cfg.Memory.Threshold
	ec.SummaryAttempts = cfg.Memory.SummaryAttempts
	ec.SummaryBackoff = cfg.Memory.SummaryBackoff
	ec.SummaryTimeout = cfg.Memory.SummaryTimeout
	ec.UserLabel = cfg.Memory.UserLabel
	ec.AgentLabel = cfg.Memory.AgentLabel
	ec.LogDir = cfg.Memory.LogDir
	ec.Location = cfg.Location()
	ec.Vocabulary = vocab
	ec.Metrics = metrics
	return ec
}

// New builds an App from cfg. Nothing listens until Run or Serve.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	vocab := memory.NewVocabulary(cfg.Memory.ExtraKeywords...)
	metrics := observability.NewMetrics(MetricsNamespace)
	metrics.Topics(backend.Index.Len())

	summarizer := NewSummarizer(cfg, vocab)
	engine := memory.NewEngine(EngineConfig(cfg, vocab, metrics), backend.Index, summarizer, logger)
	session := agent.NewSession(engine, agent.Options{}, logger)

	logger.Info("memlake initialised",
		"backend", cfg.Memory.Backend,
		"topics", backend.Index.Len(),
		"summarizer", fmt.Sprintf("%T", summarizer),
		"session_id", engine.SessionID(),
	)

	return &App{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		engine:  engine,
		session: session,
		metrics: metrics,
		api:     httpapi.New(session, metrics, logger),
	}, nil
}

// Session returns the application's session.
func (a *App) Session() *agent.Session { return a.session }

// Engine returns the memory engine.
func (a *App) Engine() *memory.Engine { return a.engine }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.api.Router() }

// Run listens on the configured address and serves until ctx ends, then
// stops the App.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.BindAddr)
	if err != nil {
		return errors.Join(fmt.Errorf("app: listen %s: %w", a.cfg.HTTP.BindAddr, err), a.Stop(ctx))
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx ends or the server fails, then
// drains the session into memory.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("memlake API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("memlake API shutdown error", "err", err)
		}
		return nil
	})

	serveErr := g.Wait()
	return errors.Join(serveErr, a.Stop(context.WithoutCancel(ctx)))
}

// Stop flushes uncommitted turns, archives the session log and closes the
// storage. Later calls return the first call's result.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.logger.Info("stopping memlake session")
		res, err := a.session.Close(ctx)
		if err != nil {
			a.logger.Error("final flush failed", "err", observability.RedactSecrets(err.Error(), a.cfg.Summarizer.APIKey))
		} else if res.Flushed {
			a.logger.Info("final batch committed", "topic_index", res.Position, "turns", len(res.Committed))
		}

		a.logger.Info("closing topic storage")
		a.stopErr = errors.Join(err, a.backend.Close())
	})
	return a.stopErr
}
