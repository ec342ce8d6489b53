// Package api serves the health, metrics and run journal endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tazhate/weathercal/internal/domain"
	"github.com/tazhate/weathercal/internal/logger"
)

// RunStore reads the run journal.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
}

// SyncTrigger starts a sync run on demand.
type SyncTrigger interface {
	Run(ctx context.Context) (*domain.Run, error)
}

// Metrics is the part of the metrics manager the router needs.
type Metrics interface {
	ObserveHTTPRequest(route, method string, status int, took time.Duration)
	Handler() http.Handler
}

// Credentials protect /api. Empty credentials leave it open.
type Credentials struct {
	Username string
	Password string
}

// APIResponse is the JSON envelope of every /api response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type RunEventResponse struct {
	UID       string `json:"uid,omitempty"`
	SlotIndex int    `json:"slot_index"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

type RunResponse struct {
	ID         string             `json:"id"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at,omitempty"`
	DurationMs int64              `json:"duration_ms"`
	Slots      int                `json:"slots"`
	Created    int                `json:"created"`
	Updated    int                `json:"updated"`
	Dropped    int                `json:"dropped"`
	Failed     int                `json:"failed"`
	Pruned     int                `json:"pruned"`
	Retryable  bool               `json:"retryable"`
	Error      string             `json:"error,omitempty"`
	Events     []RunEventResponse `json:"events,omitempty"`
}

type handler struct {
	runs  RunStore
	sync  SyncTrigger
	creds Credentials
	log   *logger.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(runs RunStore, sync SyncTrigger, m Metrics, creds Credentials, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.Nop()
	}
	h := &handler{runs: runs, sync: sync, creds: creds, log: log}

	r := mux.NewRouter()
	r.Use(h.recovery)
	r.Use(instrument(m, log))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.basicAuth)
	api.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	api.HandleFunc("/sync", h.triggerSync).Methods(http.MethodPost)

	return r
}

func (h *handler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.creds.Username == "" && h.creds.Password == "" {
			next.ServeHTTP(w, r)
			return
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != h.creds.Username || password != h.creds.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="weathercal API"`)
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GET /health
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// GET /api/runs?limit=N - recent runs, newest first
func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			jsonError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Errorw("List runs failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	jsonResponse(w, resp)
}

// GET /api/runs/{id} - one run with per-slot outcomes
func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		h.log.Errorw("Get run failed", "run", id, "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, runToResponse(run))
}

// POST /api/sync - run the pipeline now
func (h *handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abort a run halfway.
	run, err := h.sync.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, domain.ErrFetchFailed):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(APIResponse{Success: false, Data: runToResponse(run), Error: err.Error()})
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runToResponse(run))
}

func runToResponse(run *domain.Run) RunResponse {
	resp := RunResponse{
		ID:         run.ID,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		DurationMs: run.Duration().Milliseconds(),
		Slots:      run.Slots,
		Created:    run.Created,
		Updated:    run.Updated,
		Dropped:    run.Dropped,
		Failed:     run.Failed,
		Pruned:     run.Pruned,
		Retryable:  run.Retryable,
		Error:      run.Error,
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	for _, e := range run.Events {
		resp.Events = append(resp.Events, RunEventResponse{
			UID:       e.UID,
			SlotIndex: e.SlotIndex,
			Outcome:   string(e.Outcome),
			Error:     e.Error,
		})
	}
	return resp
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}
