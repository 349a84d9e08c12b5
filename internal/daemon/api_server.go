package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"scour/internal/api"
	"scour/internal/config"
	"scour/internal/logging"
	"scour/internal/pipeline"
	"scour/internal/queue"
	"scour/internal/services"
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}

	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		queueSvc: d.QueueService(),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/search", authMiddleware(token, srv.handleSearch))
	mux.HandleFunc("/api/drain", authMiddleware(token, srv.handleDrain))
	mux.HandleFunc("/api/items/", authMiddleware(token, srv.handlePoll))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(token, srv.handleQueueItem))
	mux.HandleFunc("/api/queue/retry", authMiddleware(token, srv.handleQueueRetry))
	mux.HandleFunc("/api/queue/clear", authMiddleware(token, srv.handleQueueClear))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Search requests block on remote runs.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.daemon.Search(r.Context(), pipeline.SearchRequest{
		OwnerID:  req.OwnerID,
		Keywords: req.Keywords,
		Limit:    req.Limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrTooFewResults):
			s.writeError(w, http.StatusBadRequest, "too few discoverable results for this search")
		case errors.Is(err, services.ErrValidation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	resp := api.SearchResponse{
		SessionID:     result.SessionID,
		Queued:        result.Queued,
		QueuedItemID:  result.QueuedItemID,
		QueuePosition: result.QueuePosition,
		Requested:     result.Requested,
		Returned:      result.Returned,
		RawDiscovered: result.RawDiscovered,
		Credits: api.CreditSummary{
			Reserved: result.Reserved,
			Actual:   result.ActualCost,
			Refund:   result.Refund,
		},
	}
	if result.Queued {
		resp.EstimatedWait = api.WaitEstimate(result.QueuePosition)
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	resp.Items = make([]map[string]any, 0, len(result.Items))
	for _, item := range result.Items {
		resp.Items = append(resp.Items, item)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.daemon.Drain(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DrainResponse{
		Selected:  summary.Selected,
		Skipped:   summary.Skipped,
		Processed: summary.Processed,
		Requeued:  summary.Requeued,
		Failed:    summary.Failed,
		Reaped:    summary.Reaped,
		Duration:  summary.Duration.Round(time.Millisecond).String(),
	})
}

func (s *apiServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))

	resp, err := s.queueSvc.Poll(r.Context(), id, owner)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "queue item not found")
		case errors.Is(err, services.ErrValidation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	statuses, ok := parseStatuses(r.URL.Query()["status"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	items, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: items})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.queueSvc.Describe(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if item == nil {
			s.writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
	case http.MethodDelete:
		removed, err := s.queueSvc.Remove(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !removed {
			s.writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.QueueMutationResponse{Affected: 1})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		IDs []string `json:"ids"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	affected, err := s.queueSvc.RetryFailed(r.Context(), body.IDs...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueMutationResponse{Affected: affected})
}

func (s *apiServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	statuses, ok := parseStatuses(r.URL.Query()["status"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	affected, err := s.queueSvc.Clear(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueMutationResponse{Affected: affected})
}

func parseStatuses(values []string) ([]queue.Status, bool) {
	var statuses []queue.Status
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := queue.ParseStatus(trimmed)
		if !ok {
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
