package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/server/middleware"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/sweeper"
)

// Sweeper runs an on-demand sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) (store.SweepResult, error)
}

// AdminHandler serves the staff endpoints: issuing, listing and revoking
// credentials, managing sessions, sweeping, and inspecting references.
type AdminHandler struct {
	issuer    *service.Issuer
	validator *service.Validator
	promoter  *service.Promoter
	store     store.Store
	sweeper   Sweeper
	logger    *slog.Logger

	Clock clock.Clock
}

// AdminDeps groups the AdminHandler collaborators.
type AdminDeps struct {
	Issuer    *service.Issuer
	Validator *service.Validator
	Promoter  *service.Promoter
	Store     store.Store
	Sweeper   Sweeper
	Logger    *slog.Logger
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		issuer:    deps.Issuer,
		validator: deps.Validator,
		promoter:  deps.Promoter,
		store:     deps.Store,
		sweeper:   deps.Sweeper,
		logger:    logger,
		Clock:     clock.New(),
	}
}

// credentialView is a credential listing entry. The raw reference is never
// part of it.
type credentialView struct {
	model.Credential
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type sessionListView struct {
	model.Session
	RemainingMinutes int `json:"time_remaining_minutes"`
}

type issueCredentialRequest struct {
	ResourceID       string   `json:"resource_id"`
	Recipient        string   `json:"recipient"`
	DurationSeconds  int      `json:"duration_seconds"`
	Scope            []string `json:"scope,omitempty"`
	SkipNotification bool     `json:"skip_notification,omitempty"`
}

// IssueCredential mints a credential and queues the recipient notification.
// POST /api/v1/admin/credentials
func (h *AdminHandler) IssueCredential(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	scope, err := model.ParseScope(strings.Join(req.Scope, ","))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"reason": "invalid_scope"})
		return
	}

	res, err := h.issuer.Issue(r.Context(), service.IssueRequest{
		ResourceID:       req.ResourceID,
		Recipient:        req.Recipient,
		DurationSeconds:  req.DurationSeconds,
		Scope:            scope,
		IssuedBy:         caller(r),
		SkipNotification: req.SkipNotification,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListCredentials returns redacted credentials, newest first.
// GET /api/v1/admin/credentials?resource_id=&recipient=&state=&limit=
func (h *AdminHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)
	creds, err := h.store.ListCredentials(r.Context(), store.CredentialFilter{
		ResourceID: queryString(r, "resource_id"),
		Recipient:  queryString(r, "recipient"),
		State:      model.CredentialState(queryString(r, "state")),
		Limit:      limit,
	})
	if err != nil {
		h.logger.Error("list credentials", "error", err)
		writeServiceError(w, err)
		return
	}

	now := h.Clock.Now()
	out := make([]credentialView, len(creds))
	for i := range creds {
		out[i] = h.credentialView(&creds[i], now)
	}
	writeJSON(w, http.StatusOK, model.ListResponse[credentialView]{
		Resource: out,
		Meta:     meta(len(out), limit, start),
	})
}

// GetCredential returns one credential by id.
// GET /api/v1/admin/credentials/{id}
func (h *AdminHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCredential(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.credentialView(c, h.Clock.Now()))
}

// RevokeCredential revokes a credential by id.
// DELETE /api/v1/admin/credentials/{id}
func (h *AdminHandler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.issuer.Revoke(r.Context(), id, caller(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	c, err := h.store.GetCredential(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.credentialView(c, h.Clock.Now()))
}

// ListSessions returns sessions, newest first.
// GET /api/v1/admin/sessions?resource_id=&recipient=&state=&limit=
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)
	sessions, err := h.store.ListSessions(r.Context(), store.SessionFilter{
		ResourceID: queryString(r, "resource_id"),
		Recipient:  queryString(r, "recipient"),
		State:      model.SessionState(queryString(r, "state")),
		Limit:      limit,
	})
	if err != nil {
		h.logger.Error("list sessions", "error", err)
		writeServiceError(w, err)
		return
	}

	now := h.Clock.Now()
	out := make([]sessionListView, len(sessions))
	for i, s := range sessions {
		out[i] = sessionListView{Session: s}
		if s.State == model.SessionActive {
			out[i].RemainingMinutes = int(s.Remaining(now) / time.Minute)
		}
	}
	writeJSON(w, http.StatusOK, model.ListResponse[sessionListView]{
		Resource: out,
		Meta:     meta(len(out), limit, start),
	})
}

// EndSession terminates a session by id.
// DELETE /api/v1/admin/sessions/{id}
func (h *AdminHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.promoter.EndByID(r.Context(), chi.URLParam(r, "id"), model.EndReasonAdmin); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep removes expired records past retention.
// POST /api/v1/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, sweeper.ErrBusy) {
			writeError(w, http.StatusConflict, "A sweep is already running")
			return
		}
		h.logger.Error("sweep", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"credentials_removed": res.Credentials,
		"sessions_removed":    res.Sessions,
	})
}

type inspectRequest struct {
	Credential string `json:"credential"`
}

// Inspect reports the precise validation outcome for a reference without
// consuming it.
// POST /api/v1/admin/inspect
func (h *AdminHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := readJSON(w, r, &req); err != nil || strings.TrimSpace(req.Credential) == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}
	out, err := h.validator.Inspect(r.Context(), req.Credential)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) credentialView(c *model.Credential, now time.Time) credentialView {
	v := credentialView{Credential: c.Redacted()}
	if c.State == model.CredentialActive {
		if d := c.ExpiresAt.Sub(now); d > 0 {
			v.RemainingSeconds = int64(d / time.Second)
		}
	}
	return v
}

func caller(r *http.Request) string {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		return p.Email
	}
	return ""
}

func meta(count, limit int, start time.Time) model.ResponseMeta {
	return model.ResponseMeta{
		Count:  count,
		Limit:  limit,
		TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}
