package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/service"
)

// SessionHeader carries the session token on session requests.
const SessionHeader = "X-Session-Token"

// Messages shown to anonymous callers. They never say why access failed.
const (
	msgAccessUnavailable  = "This access link is invalid or no longer available"
	msgSessionUnavailable = "Your session is no longer active"
	msgServiceUnavailable = "Service temporarily unavailable"
	msgScopeNotGranted    = "Requested scope is not granted by this credential"
)

// AccessHandler serves the public endpoints a recipient's browser calls:
// presenting a credential and keeping the resulting session alive.
type AccessHandler struct {
	validator *service.Validator
	promoter  *service.Promoter
	resources service.ResourceLookup
	logger    *slog.Logger

	Clock clock.Clock
}

// NewAccessHandler creates an AccessHandler. promoter and resources may be
// nil, in which case promotion is refused and responses carry only the
// resource id.
func NewAccessHandler(validator *service.Validator, promoter *service.Promoter, resources service.ResourceLookup, logger *slog.Logger) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{
		validator: validator,
		promoter:  promoter,
		resources: resources,
		logger:    logger,
		Clock:     clock.New(),
	}
}

type presentRequest struct {
	Credential string   `json:"credential"`
	Promote    bool     `json:"promote"`
	Scope      []string `json:"scope,omitempty"`
}

type presentResponse struct {
	Valid      bool            `json:"valid"`
	ResourceID string          `json:"resource_id"`
	Resource   *model.Resource `json:"resource,omitempty"`
	Recipient  model.Recipient `json:"recipient"`
	Scope      model.Scope     `json:"scope"`
	Policy     model.Policy    `json:"policy"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Session    *sessionView    `json:"session,omitempty"`
}

type sessionView struct {
	Token            string          `json:"token,omitempty"`
	ResourceID       string          `json:"resource_id"`
	Resource         *model.Resource `json:"resource,omitempty"`
	Recipient        model.Recipient `json:"recipient"`
	Scope            model.Scope     `json:"scope"`
	ExpiresAt        time.Time       `json:"expires_at"`
	RemainingMinutes int             `json:"time_remaining_minutes"`
	ExtensionCount   int             `json:"extension_count"`
	ExtensionsLeft   int             `json:"extensions_remaining"`
}

// Present validates a credential and optionally promotes it to a session.
// POST /api/v1/access/present
func (h *AccessHandler) Present(w http.ResponseWriter, r *http.Request) {
	var req presentRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}
	requested, err := model.ParseScope(strings.Join(req.Scope, ","))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Promote && h.promoter == nil {
		writeError(w, http.StatusBadRequest, "Sessions are not enabled")
		return
	}

	var d *service.Decision
	if req.Promote {
		d, err = h.validator.ValidateForScope(r.Context(), req.Credential, requested)
	} else {
		d, err = h.validator.Validate(r.Context(), req.Credential)
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidScope) {
			writeError(w, http.StatusBadRequest, msgScopeNotGranted)
			return
		}
		h.writeAnonymousError(w, err, msgAccessUnavailable)
		return
	}

	resp := presentResponse{
		Valid:      true,
		ResourceID: d.ResourceID,
		Resource:   h.lookup(r, d.ResourceID),
		Recipient:  d.Recipient,
		Scope:      d.Scope,
		Policy:     d.Policy,
		ExpiresAt:  d.ExpiresAt,
	}
	if req.Promote {
		sess, err := h.promoter.Promote(r.Context(), d, requested)
		if err != nil {
			if errors.Is(err, service.ErrInvalidScope) {
				writeError(w, http.StatusBadRequest, msgScopeNotGranted)
				return
			}
			h.logger.Error("promote session", "error", err)
			writeError(w, http.StatusServiceUnavailable, msgServiceUnavailable)
			return
		}
		resp.Session = h.view(sess, resp.Resource)
		resp.Session.Token = sess.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session confirms the caller's session is live.
// GET /api/v1/access/session
func (h *AccessHandler) Session(w http.ResponseWriter, r *http.Request) {
	token, ok := h.sessionToken(w, r)
	if !ok {
		return
	}
	sess, err := h.promoter.Touch(r.Context(), token)
	if err != nil {
		h.writeAnonymousError(w, err, msgSessionUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.view(sess, h.lookup(r, sess.ResourceID)))
}

// ExtendSession pushes the session expiry out by the configured increment.
// POST /api/v1/access/session/extend
func (h *AccessHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	token, ok := h.sessionToken(w, r)
	if !ok {
		return
	}
	sess, err := h.promoter.Extend(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrMaxExtensionsReached) {
			writeError(w, http.StatusConflict, "This session cannot be extended any further")
			return
		}
		h.writeAnonymousError(w, err, msgSessionUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.view(sess, nil))
}

// EndSession logs the caller out. Ending an unknown or ended session
// succeeds.
// DELETE /api/v1/access/session
func (h *AccessHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	token, ok := h.sessionToken(w, r)
	if !ok {
		return
	}
	err := h.promoter.End(r.Context(), token, model.EndReasonLogout)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		h.logger.Error("end session", "error", err)
		writeError(w, http.StatusServiceUnavailable, msgServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccessHandler) sessionToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.promoter == nil {
		writeError(w, http.StatusNotFound, "Sessions are not enabled")
		return "", false
	}
	token := strings.TrimSpace(r.Header.Get(SessionHeader))
	if token == "" {
		writeError(w, http.StatusUnauthorized, msgSessionUnavailable)
		return "", false
	}
	return token, true
}

// writeAnonymousError hides the precise reason from the caller. Routine
// refusals share one message; infrastructure failures are 503.
func (h *AccessHandler) writeAnonymousError(w http.ResponseWriter, err error, message string) {
	if !service.IsAccessDenied(err) {
		writeError(w, http.StatusServiceUnavailable, msgServiceUnavailable)
		return
	}
	status := http.StatusForbidden
	if message == msgSessionUnavailable {
		status = http.StatusUnauthorized
	}
	writeError(w, status, message)
}

func (h *AccessHandler) lookup(r *http.Request, id string) *model.Resource {
	if h.resources == nil {
		return nil
	}
	res, err := h.resources.FindResource(r.Context(), id)
	if err != nil {
		h.logger.Warn("resource lookup failed", "resource_id", id, "error", err)
		return nil
	}
	return res
}

func (h *AccessHandler) view(sess *model.Session, res *model.Resource) *sessionView {
	left := h.promoter.Config().MaxExtensions - sess.ExtensionCount
	if left < 0 {
		left = 0
	}
	return &sessionView{
		ResourceID:       sess.ResourceID,
		Resource:         res,
		Recipient:        sess.Recipient,
		Scope:            sess.Scope,
		ExpiresAt:        sess.ExpiresAt,
		RemainingMinutes: int(sess.Remaining(h.Clock.Now()) / time.Minute),
		ExtensionCount:   sess.ExtensionCount,
		ExtensionsLeft:   left,
	}
}
