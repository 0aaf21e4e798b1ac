// Package httpapi exposes the memory engine's command surface over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/memlake/common/trace"
	"github.com/bdobrica/memlake/common/version"
	"github.com/bdobrica/memlake/internal/memlake/agent"
	"github.com/bdobrica/memlake/internal/memlake/commands"
	"github.com/bdobrica/memlake/internal/memlake/memory"
	"github.com/bdobrica/memlake/internal/memlake/observability"
)

// RequestIDHeader carries the request trace ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty request body")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server serves the API for one session.
type Server struct {
	session *agent.Session
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Server. metrics may be nil.
func New(session *agent.Session, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{session: session, metrics: metrics, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleRecordTurn)
		r.Get("/turns", s.handleListTurns)
		r.Post("/flush", s.handleFlush)
		r.Post("/commands", s.handleCommand)
		r.Get("/recall", s.handleRecall)
		r.Get("/context", s.handleContext)
		r.Get("/stats", s.handleStats)
		r.Get("/topics/first", s.handleFirstTopic)
		r.Get("/topics/recent", s.handleRecentTopics)
		r.Get("/topics/important", s.handleImportantTopics)
		r.Get("/topics/{index}", s.handleGetTopic)
		r.Post("/topics/{index}/important", s.handleToggleImportant)
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id != "" {
			ctx = trace.WithID(ctx, id)
		} else {
			ctx, id = trace.Ensure(ctx, trace.PrefixRequest)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, status)
		}
		observability.WithTrace(r.Context(), s.logger).Debug("httpapi: request",
			"method", r.Method, "route", route, "status", status)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"build":      version.Map(),
		"session_id": s.session.Engine().SessionID(),
	})
}

type recordTurnRequest struct {
	User  string `json:"user"`
	Agent string `json:"agent"`
}

func (s *Server) handleRecordTurn(w http.ResponseWriter, r *http.Request) {
	var req recordTurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.User) == "" && strings.TrimSpace(req.Agent) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user or agent text is required")
		return
	}
	res, err := s.session.Exchange(r.Context(), req.User, req.Agent)
	if err != nil {
		// The turn is recorded even when the flush it triggered failed.
		if res.Turn.ID != "" {
			s.logFailure(r, "record turn flush", err)
			respondJSON(w, http.StatusAccepted, map[string]any{"result": res, "error": err.Error()})
			return
		}
		s.respondEngineError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) handleListTurns(w http.ResponseWriter, _ *http.Request) {
	turns := s.session.Engine().Turns()
	if turns == nil {
		turns = []memory.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Flush(r.Context())
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// commandRequest carries free text to classify, or an explicit kind such as
// "recall_first" with text as its argument.
type commandRequest struct {
	Kind string `json:"kind,omitempty"`
	Text string `json:"text"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Kind != "" {
		kind, ok := commands.ParseKind(req.Kind)
		if !ok || kind == commands.KindNone {
			respondError(w, http.StatusBadRequest, "invalid_request", "unknown command kind "+strconv.Quote(req.Kind))
			return
		}
		rep, err := s.session.Run(r.Context(), kind, req.Text)
		if err != nil {
			s.respondEngineError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
		return
	}
	rep, err := s.session.Command(r.Context(), req.Text)
	if errors.Is(err, commands.ErrNotACommand) {
		respondError(w, http.StatusUnprocessableEntity, "not_a_command", "text matches no memory command")
		return
	}
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}
	limit, ok := queryInt(w, r, "limit", memory.DefaultRecallLimit)
	if !ok {
		return
	}
	hits := s.session.Engine().Recall(q, limit)
	if hits == nil {
		hits = []memory.RecallHit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"query": q, "memories": hits})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Context(r.URL.Query().Get("q")))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.Engine().Stats()
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFirstTopic(w http.ResponseWriter, _ *http.Request) {
	first, ok := s.session.Engine().FirstEntry()
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no topics yet")
		return
	}
	respondJSON(w, http.StatusOK, first)
}

func (s *Server) handleRecentTopics(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", memory.DefaultRecentLimit)
	if !ok {
		return
	}
	topics := s.session.Engine().Recent(limit)
	if topics == nil {
		topics = []memory.TopicEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleImportantTopics(w http.ResponseWriter, _ *http.Request) {
	topics := s.session.Engine().Important()
	if topics == nil {
		topics = []memory.TopicEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	i, ok := pathIndex(w, r)
	if !ok {
		return
	}
	topic, found := s.session.Engine().Topic(i)
	if !found {
		respondError(w, http.StatusNotFound, "not_found", "topic index out of range")
		return
	}
	respondJSON(w, http.StatusOK, topic)
}

func (s *Server) handleToggleImportant(w http.ResponseWriter, r *http.Request) {
	i, ok := pathIndex(w, r)
	if !ok {
		return
	}
	toggled, err := s.session.Engine().ToggleImportant(r.Context(), i)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if !toggled {
		respondError(w, http.StatusNotFound, "not_found", "topic index out of range")
		return
	}
	topic, _ := s.session.Engine().Topic(i)
	respondJSON(w, http.StatusOK, map[string]any{"index": i, "topic": topic})
}

func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "busy", "session is busy")
	case errors.Is(err, memory.ErrEngineClosed):
		respondError(w, http.StatusServiceUnavailable, "closed", "memory engine is shut down")
	case errors.Is(err, memory.ErrIndexOutOfRange):
		respondError(w, http.StatusNotFound, "not_found", "topic index out of range")
	case errors.Is(err, memory.ErrPersist):
		s.logFailure(r, "persist", err)
		respondError(w, http.StatusInternalServerError, "persist_failed", "topic index could not be saved; batch kept")
	default:
		s.logFailure(r, "request", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) logFailure(r *http.Request, what string, err error) {
	observability.WithTrace(r.Context(), s.logger).Error("httpapi: "+what+" failed", "err", err)
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "index must be a non-negative integer")
		return 0, false
	}
	return i, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
