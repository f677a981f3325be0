// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v62/github"
	"github.com/google/uuid"

	"github-content-sync/internal/model"
	"github-content-sync/internal/store"
	"github-content-sync/internal/syncer"
)

// SyncRunner is the orchestrator surface the API triggers call into.
type SyncRunner interface {
	Sync(ctx context.Context, opts syncer.Options) (model.SyncResult, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db            store.Querier
	runner        SyncRunner
	logger        *slog.Logger
	webhookSecret []byte
}

// NewRouter creates and configures a new chi router with all routes.
func NewRouter(db store.Querier, runner SyncRunner, logger *slog.Logger, webhookSecret string) http.Handler {
	h := &Handler{
		db:            db,
		runner:        runner,
		logger:        logger,
		webhookSecret: []byte(webhookSecret),
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", h.healthCheck)
	r.Post("/webhook/github", h.handleWebhook)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", h.triggerSync)
		r.Post("/setup", h.setup)
		r.Get("/sync/logs", h.listSyncLogs)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook verifies the signature over the raw request body, then
// runs a sync for push events. Other event types are acknowledged and
// skipped.
// POST /webhook/github
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		respondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true})
		return
	}

	owner := push.GetRepo().GetOwner().GetLogin()
	repo := push.GetRepo().GetName()
	if owner == "" || repo == "" {
		respondWithError(w, http.StatusBadRequest, "Missing repository info")
		return
	}
	branch := strings.TrimPrefix(push.GetRef(), "refs/heads/")

	result, err := h.runner.Sync(r.Context(), syncer.Options{
		Owner:   owner,
		Repo:    repo,
		Branch:  branch,
		Trigger: model.TriggerWebhook,
		EventID: github.DeliveryID(r),
	})
	if err != nil {
		h.logger.Error("Webhook sync failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

type syncRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Token  string `json:"token"`
}

// triggerSync runs a manual sync, with optional overrides in the body.
// POST /v1/sync
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}

	result, err := h.runner.Sync(r.Context(), syncer.Options{
		Owner:   req.Owner,
		Repo:    req.Repo,
		Branch:  req.Branch,
		Token:   req.Token,
		Trigger: model.TriggerManual,
		EventID: uuid.NewString(),
	})
	if err != nil {
		h.logger.Error("Manual sync failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// setup persists the content-source settings, then runs an initial sync
// against them.
// POST /v1/setup
func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Owner == "" || req.Repo == "" {
		respondWithError(w, http.StatusBadRequest, "owner and repo are required")
		return
	}

	err := h.db.SetContentSourceSettings(r.Context(), model.ContentSourceSettings{
		Owner:  req.Owner,
		Repo:   req.Repo,
		Branch: req.Branch,
		Token:  req.Token,
	})
	if err != nil {
		h.logger.Error("Failed to save content source settings", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result, err := h.runner.Sync(r.Context(), syncer.Options{
		Owner:   req.Owner,
		Repo:    req.Repo,
		Branch:  req.Branch,
		Token:   req.Token,
		Trigger: model.TriggerSetup,
	})
	if err != nil {
		h.logger.Error("Setup sync failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Settings saved but initial sync failed")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// listSyncLogs returns recent sync runs, newest first.
// GET /v1/sync/logs?limit=N
func (h *Handler) listSyncLogs(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "20"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	entries, err := h.db.ListSyncLog(r.Context(), int32(limit))
	if err != nil {
		h.logger.Error("Failed to list sync log", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
