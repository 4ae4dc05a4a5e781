package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reelsmith/internal/batch"
	"reelsmith/internal/episode"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// Backend is the daemon surface the API drives.
type Backend interface {
	// Assemble schedules an episode assembly and returns without waiting.
	Assemble(episodeID string) error
	EpisodeState(ctx context.Context, episodeID string) (*episode.State, bool, error)
	StartBatch(ctx context.Context, episodeID string, requests []generation.Request) (batch.Snapshot, error)
	// Batch returns nil when the id is unknown.
	Batch(ctx context.Context, batchID string) (*batch.Snapshot, error)
	// CancelBatch returns false when no live batch has the id.
	CancelBatch(batchID string) bool
	Providers() []generation.Profile
}

// Server serves the router on a listener.
type Server struct {
	bind   string
	logger *slog.Logger
	server *http.Server

	listener net.Listener
}

// New builds a server for backend. An empty bind disables the API.
func New(bind, token string, backend Backend, logger *slog.Logger) *Server {
	if bind == "" || backend == nil {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "api-server")
	return &Server{
		bind:   bind,
		logger: logger,
		server: &http.Server{
			Handler:           NewRouter(backend, token, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// NewRouter wires routes and middleware.
func NewRouter(backend Backend, token string, logger *slog.Logger) http.Handler {
	h := &handlers{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, requestID, accessLog(logger), middleware.Recoverer)

	r.Get("/api/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Route("/api/episodes/{id}", func(r chi.Router) {
			r.Get("/", h.episodeStatus)
			r.Post("/assemble", h.assemble)
		})
		r.Route("/api/batches", func(r chi.Router) {
			r.Post("/", h.startBatch)
			r.Get("/{id}", h.batchStatus)
			r.Delete("/{id}", h.cancelBatch)
		})
		r.Get("/api/providers", h.providers)
	})
	return r
}

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

// AssembleResponse acknowledges a scheduled assembly.
type AssembleResponse struct {
	EpisodeID string `json:"episode_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// EpisodeResponse reports an episode's composition state.
type EpisodeResponse struct {
	State   *episode.State `json:"state"`
	Running bool           `json:"running"`
}

// BatchRequest starts a standalone batch.
type BatchRequest struct {
	EpisodeID string               `json:"episode_id,omitempty"`
	Requests  []generation.Request `json:"requests"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) assemble(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.backend.Assemble(id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusAccepted, AssembleResponse{
		EpisodeID: id,
		Status:    "accepted",
		StatusURL: "/api/episodes/" + id,
	})
}

func (h *handlers) episodeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, running, err := h.backend.EpisodeState(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if state == nil && !running {
		h.error(w, r, http.StatusNotFound, "episode not found", "")
		return
	}
	h.json(w, http.StatusOK, EpisodeResponse{State: state, Running: running})
}

func (h *handlers) startBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
		h.error(w, r, http.StatusBadRequest, "invalid payload: "+err.Error(), string(services.KindValidation))
		return
	}
	if len(req.Requests) == 0 {
		h.error(w, r, http.StatusBadRequest, "requests must not be empty", string(services.KindValidation))
		return
	}
	snap, err := h.backend.StartBatch(r.Context(), req.EpisodeID, req.Requests)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusAccepted, snap)
}

func (h *handlers) batchStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backend.Batch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if snap == nil {
		h.error(w, r, http.StatusNotFound, "batch not found", "")
		return
	}
	h.json(w, http.StatusOK, snap)
}

func (h *handlers) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.backend.CancelBatch(id) {
		h.error(w, r, http.StatusNotFound, "no running batch "+id, "")
		return
	}
	h.json(w, http.StatusAccepted, map[string]string{"batch_id": id, "status": "cancelling"})
}

func (h *handlers) providers(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]any{"providers": h.backend.Providers()})
}

// statusFor maps error kinds to HTTP statuses.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindCapability:
		return http.StatusUnprocessableEntity
	case services.KindTransient:
		return http.StatusConflict
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	case services.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		logging.WithContext(r.Context(), h.logger).Error("api request failed",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(err),
		)
	}
	h.error(w, r, status, err.Error(), string(kind))
}

func (h *handlers) error(w http.ResponseWriter, r *http.Request, status int, message, kind string) {
	id, _ := services.RequestIDFromContext(r.Context())
	h.json(w, status, ErrorResponse{Error: message, Kind: kind, RequestID: id})
}

func (h *handlers) json(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}
