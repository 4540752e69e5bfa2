package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL                time.Duration
	ExtensionIncrement time.Duration
	MaxExtensions      int
	// BindToCredential ends a session on its next touch once the credential
	// it was promoted from has been revoked. Off by default: sessions are
	// independent of their origin once created.
	BindToCredential bool
}

// DefaultSessionConfig returns the default session policy.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:                20 * time.Minute,
		ExtensionIncrement: 10 * time.Minute,
		MaxExtensions:      5,
	}
}

// Promoter turns validated credentials into renewable sessions.
type Promoter struct {
	store   store.Store
	cfg     SessionConfig
	logger  *slog.Logger
	metrics *telemetry.Metrics

	Clock clock.Clock
}

// NewPromoter creates a Promoter. Zero fields in cfg take their defaults.
func NewPromoter(cfg SessionConfig, st store.Store, logger *slog.Logger, metrics *telemetry.Metrics) *Promoter {
	def := DefaultSessionConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ExtensionIncrement <= 0 {
		cfg.ExtensionIncrement = def.ExtensionIncrement
	}
	if cfg.MaxExtensions < 0 {
		cfg.MaxExtensions = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{store: st, cfg: cfg, logger: logger, metrics: metrics, Clock: clock.New()}
}

// Config returns the effective session policy.
func (p *Promoter) Config() SessionConfig {
	return p.cfg
}

// Promote creates a session from a successful validation. The session scope
// is the intersection of requested and the credential's scope; an empty
// request takes the credential's scope unchanged. The returned Session
// carries the raw token, which is not stored.
func (p *Promoter) Promote(ctx context.Context, d *Decision, requested model.Scope) (*model.Session, error) {
	if d == nil {
		return nil, errors.New("promote: nil decision")
	}
	scope := d.Scope
	if len(requested) > 0 {
		scope = requested.Intersect(d.Scope)
	}
	if len(scope) == 0 {
		return nil, ErrInvalidScope
	}

	token, err := codec.GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	now := p.Clock.Now().UTC()
	sess := &model.Session{
		ID:                 codec.HashReference(token),
		Token:              token,
		Prefix:             codec.Prefix(token),
		OriginCredentialID: d.CredentialID,
		ResourceID:         d.ResourceID,
		Recipient:          d.Recipient,
		Scope:              scope,
		State:              model.SessionActive,
		CreatedAt:          now,
		ExpiresAt:          now.Add(p.cfg.TTL),
	}
	if err := p.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	p.metrics.SessionEvent("promote")
	p.logger.Info("session created",
		"session", sess.Prefix,
		"resource_id", sess.ResourceID,
		"recipient", sess.Recipient.Email,
		"scope", scope.String(),
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// Touch confirms the session behind token is live and records the access.
// An expired session is ended lazily and reported as ErrSessionEnded.
func (p *Promoter) Touch(ctx context.Context, token string) (*model.Session, error) {
	id := codec.HashReference(token)
	now := p.Clock.Now()

	if p.cfg.BindToCredential {
		if err := p.checkOrigin(ctx, id, now); err != nil {
			return nil, err
		}
	}

	sess, err := p.store.TouchSession(ctx, id, now)
	if err != nil {
		return nil, p.settle(ctx, id, now, err)
	}
	p.metrics.SessionEvent("touch")
	return sess, nil
}

// Extend adds the configured increment to the session's expiry, up to the
// configured number of extensions.
func (p *Promoter) Extend(ctx context.Context, token string) (*model.Session, error) {
	id := codec.HashReference(token)
	now := p.Clock.Now()

	sess, err := p.store.ExtendSession(ctx, id, p.cfg.ExtensionIncrement, p.cfg.MaxExtensions, now)
	if err != nil {
		if errors.Is(err, store.ErrMaxExtensionsReached) {
			p.metrics.SessionEvent("extend_refused")
			return nil, ErrMaxExtensionsReached
		}
		return nil, p.settle(ctx, id, now, err)
	}

	p.metrics.SessionEvent("extend")
	p.logger.Info("session extended",
		"session", sess.Prefix,
		"extension_count", sess.ExtensionCount,
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// End terminates the session behind token.
func (p *Promoter) End(ctx context.Context, token, reason string) error {
	return p.EndByID(ctx, codec.HashReference(token), reason)
}

// EndByID terminates a session by id. Ending an ended session is a no-op.
func (p *Promoter) EndByID(ctx context.Context, id, reason string) error {
	if err := p.store.EndSession(ctx, id, reason, p.Clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("end session: %w", err)
	}
	p.metrics.SessionEvent("end")
	p.logger.Info("session ended", "session_id", id, "reason", reason)
	return nil
}

// settle maps a failed touch or extend onto the service errors. A session
// that is still marked active but past its expiry is ended here.
func (p *Promoter) settle(ctx context.Context, id string, now time.Time, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrSessionEnded):
		sess, gerr := p.store.GetSession(ctx, id)
		if gerr == nil && sess.State == model.SessionActive && sess.ExpiredAt(now) {
			if eerr := p.store.EndSession(ctx, id, model.EndReasonExpired, now); eerr != nil {
				p.logger.Warn("end expired session", "session_id", id, "error", eerr)
			} else {
				p.metrics.SessionEvent("expire")
			}
		}
		return ErrSessionEnded
	default:
		return fmt.Errorf("session lookup: %w", err)
	}
}

// checkOrigin ends the session when its origin credential was revoked.
func (p *Promoter) checkOrigin(ctx context.Context, id string, now time.Time) error {
	sess, err := p.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}
	if sess.State != model.SessionActive {
		return ErrSessionEnded
	}
	c, err := p.store.GetCredential(ctx, sess.OriginCredentialID)
	if err != nil {
		// Swept credentials and signed-token origins have no record.
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get origin credential: %w", err)
	}
	if c.State != model.CredentialRevoked {
		return nil
	}
	if err := p.store.EndSession(ctx, id, model.EndReasonOrigin, now); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	p.metrics.SessionEvent("end")
	return ErrSessionEnded
}
