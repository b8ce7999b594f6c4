// Package handler exposes the opt-in lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"optin/internal/optin/models"
	rlmodels "optin/internal/ratelimit/models"
	"optin/internal/retention"
	dErrors "optin/pkg/domain-errors"
	"optin/pkg/platform/httputil"
	"optin/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Service is the lifecycle surface the handler drives.
type Service interface {
	Create(ctx context.Context, sub models.Submission) (*models.Result, error)
	Confirm(ctx context.Context, token string) (*models.Result, error)
	OptOut(ctx context.Context, token string) (*models.Result, error)
	Delete(ctx context.Context, token, actor string) (*models.Result, error)
	Get(ctx context.Context, token string) (*models.OptInRecord, error)
	Stats(ctx context.Context) (map[models.Status]int, error)
}

// Cleaner runs forced retention passes.
type Cleaner interface {
	CleanNow(ctx context.Context, class retention.Class) (*retention.Result, error)
}

// LimitResetter unblocks a rate limited identifier.
type LimitResetter interface {
	Reset(ctx context.Context, scope rlmodels.Scope, identifier string) error
}

type Handler struct {
	service      Service
	cleaner      Cleaner
	limits       LimitResetter
	requireAdmin func(http.Handler) http.Handler
	logger       *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithAdmin mounts the admin routes behind requireAdmin.
func WithAdmin(requireAdmin func(http.Handler) http.Handler, cleaner Cleaner, limits LimitResetter) Option {
	return func(h *Handler) {
		h.requireAdmin = requireAdmin
		h.cleaner = cleaner
		h.limits = limits
	}
}

func New(service Service, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public routes and, when configured, the admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/optin", h.handleCreate)
	r.Get("/v1/optin/confirm", h.handleConfirm)
	r.Post("/v1/optin/opt-out", h.handleOptOut)

	if h.requireAdmin == nil {
		return
	}
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/optin/{token}", h.handleAdminGet)
		r.Delete("/optin/{token}", h.handleAdminDelete)
		r.Get("/stats", h.handleAdminStats)
		r.Post("/cleanup", h.handleAdminCleanup)
		r.Post("/ratelimit/reset", h.handleAdminResetLimit)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub := models.Submission{
		FormRef:         req.FormRef,
		Email:           req.Email,
		IP:              requestcontext.ClientIP(ctx),
		ConsentSnapshot: req.ConsentSnapshot,
		Files:           req.Files,
		Category:        req.Category,
	}
	if req.Content != "" {
		sub.Content = []byte(req.Content)
	}
	res, err := h.service.Create(ctx, sub)
	if err != nil {
		h.writeError(ctx, w, "create opt-in failed", err)
		return
	}

	if res.Outcome == models.OutcomeRateLimited {
		httputil.WriteJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
			Error: string(dErrors.CodeRateLimited),
			Scope: res.Scope,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, CreateResponse{
		ID:    res.Record.ID,
		Token: res.Record.Token,
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}

	res, err := h.service.Confirm(ctx, token)
	if err != nil {
		h.writeError(ctx, w, "confirm opt-in failed", err)
		return
	}
	httputil.WriteJSON(w, outcomeStatus(res.Outcome), StatusResponse{Status: string(res.Outcome)})
}

func (h *Handler) handleOptOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}

	res, err := h.service.OptOut(ctx, req.Token)
	if err != nil {
		h.writeError(ctx, w, "opt-out failed", err)
		return
	}
	httputil.WriteJSON(w, outcomeStatus(res.Outcome), StatusResponse{Status: string(res.Outcome)})
}

func (h *Handler) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.service.Get(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(ctx, w, "get opt-in failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.service.Delete(ctx, chi.URLParam(r, "token"), requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(ctx, w, "delete opt-in failed", err)
		return
	}
	httputil.WriteJSON(w, outcomeStatus(res.Outcome), StatusResponse{Status: string(res.Outcome)})
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.writeError(ctx, w, "stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CleanupRequest
	if !h.decode(w, r, &req) {
		return
	}
	class, err := retention.ParseClass(req.Class)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.cleaner.CleanNow(ctx, class)
	if err != nil {
		h.writeError(ctx, w, "cleanup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CleanupResponse{
		Class:       string(res.Class),
		RowsDeleted: res.RowsDeleted,
		Cutoff:      res.Cutoff,
	})
}

func (h *Handler) handleAdminResetLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResetLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	scope, err := rlmodels.ParseScope(req.Scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identifier is required"))
		return
	}
	if err := h.limits.Reset(ctx, scope, req.Identifier); err != nil {
		h.writeError(ctx, w, "rate limit reset failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", requestcontext.RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func outcomeStatus(o models.Outcome) int {
	switch o {
	case models.OutcomeExpired:
		return http.StatusGone
	case models.OutcomeNotFound:
		return http.StatusNotFound
	case models.OutcomeNotConfirmed:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// CreateRequest is the form-source submission body.
type CreateRequest struct {
	FormRef         string   `json:"form_ref"`
	Email           string   `json:"email"`
	ConsentSnapshot string   `json:"consent_snapshot"`
	Content         string   `json:"content,omitempty"`
	Files           []string `json:"files,omitempty"`
	Category        string   `json:"category,omitempty"`
}

type CreateResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type RateLimitedResponse struct {
	Error string `json:"error"`
	Scope string `json:"scope"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type CleanupRequest struct {
	Class string `json:"class"`
}

type CleanupResponse struct {
	Class       string    `json:"class"`
	RowsDeleted int       `json:"rows_deleted"`
	Cutoff      time.Time `json:"cutoff"`
}

type ResetLimitRequest struct {
	Scope      string `json:"scope"`
	Identifier string `json:"identifier"`
}
