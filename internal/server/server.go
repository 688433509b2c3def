package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/comigor/webgpt-go/internal/cache"
	"github.com/comigor/webgpt-go/internal/chat"
	"github.com/comigor/webgpt-go/internal/logger"
	"github.com/comigor/webgpt-go/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP surface of the chat front-end.
type Server struct {
	completer chat.Completer
	store     cache.Store
	metrics   *metrics.Metrics
	static    http.Handler
}

// New builds the server. store may be nil, in which case the cache routes
// are not mounted.
func New(completer chat.Completer, store cache.Store, m *metrics.Metrics) *Server {
	return &Server{
		completer: completer,
		store:     store,
		metrics:   m,
		static:    newStaticHandler(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, s.accessLog, middleware.Recoverer)

	r.Handle("/", s.static)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Post("/api/predict", s.handlePredict)

	if s.store != nil {
		r.Get("/api/cache/{key}", s.handleCacheGet)
		r.Put("/api/cache/{key}", s.handleCacheSet)
		r.Delete("/api/cache/{key}", s.handleCacheDelete)
	}

	return r
}

type predictRequest struct {
	Input   string          `json:"input"`
	History chat.Transcript `json:"history"`
}

type predictResponse struct {
	Pairs   []chat.Pair     `json:"pairs"`
	History chat.Transcript `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handlePredict runs one conversation round. The browser owns the
// transcript and sends it back with every submission.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.History.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pairs, history := chat.Advance(r.Context(), req.History, req.Input, s.completer)
	respondJSON(w, http.StatusOK, predictResponse{Pairs: pairs, History: history})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"cache_enabled": s.store != nil,
	})
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok, err := s.store.Get(r.Context(), key)
	if err != nil {
		logger.L.Error("cache get failed", "key", key, "error", err)
		respondError(w, http.StatusBadGateway, "cache unavailable")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "key not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

// handleCacheSet stores the raw request body as the value.
func (s *Server) handleCacheSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := s.store.Set(r.Context(), key, string(body)); err != nil {
		logger.L.Error("cache set failed", "key", key, "error", err)
		respondError(w, http.StatusBadGateway, "cache unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.store.Delete(r.Context(), key); err != nil {
		logger.L.Error("cache delete failed", "key", key, "error", err)
		respondError(w, http.StatusBadGateway, "cache unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		logger.L.Info("http request",
			"request_id", w.Header().Get("X-Request-ID"),
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
