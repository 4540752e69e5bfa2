package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// Decision is the result of a successful validation.
type Decision struct {
	// CredentialID is the store id for opaque references and the jti claim
	// for signed tokens.
	CredentialID string
	Strategy     codec.Strategy
	ResourceID   string
	ResourceName string
	Recipient    model.Recipient
	Scope        model.Scope
	Policy       model.Policy
	ExpiresAt    time.Time
	UseCount     int
}

// ValidatorConfig controls the Validator.
type ValidatorConfig struct {
	Strategy codec.Strategy
	// RecheckEligibility consults the recipient directory on every
	// presentation.
	RecheckEligibility bool
}

// Validator decides whether a presented reference or token grants access.
type Validator struct {
	store     store.Store
	signer    *codec.Signer
	directory RecipientDirectory
	cfg       ValidatorConfig
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	Clock clock.Clock
}

// NewValidator creates a Validator. signer is required for the signed
// strategy and st for the opaque strategy; directory may be nil.
func NewValidator(cfg ValidatorConfig, st store.Store, signer *codec.Signer, directory RecipientDirectory, logger *slog.Logger, metrics *telemetry.Metrics) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = codec.StrategyOpaque
	}
	return &Validator{
		store:     st,
		signer:    signer,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		Clock:     clock.New(),
	}
}

// Strategy returns the codec strategy this validator accepts.
func (v *Validator) Strategy() codec.Strategy {
	return v.cfg.Strategy
}

// Validate checks presented and, on success, records the use. Every failure
// is a distinct sentinel: ErrNotFound, ErrExpired, ErrAlreadyConsumed,
// ErrRevoked, ErrInvalidSignature, ErrWrongTokenType or
// ErrRecipientNotEligible. Any other error is an infrastructure failure.
func (v *Validator) Validate(ctx context.Context, presented string) (*Decision, error) {
	return v.validate(ctx, presented, nil)
}

// ValidateForScope is Validate for a caller that needs specific actions,
// such as a promotion request. A credential granting none of requested is
// refused with ErrInvalidScope before its use is recorded, so a single-use
// link survives the refusal. An empty requested scope accepts whatever the
// credential grants.
func (v *Validator) ValidateForScope(ctx context.Context, presented string, requested model.Scope) (*Decision, error) {
	return v.validate(ctx, presented, requested)
}

func (v *Validator) validate(ctx context.Context, presented string, requested model.Scope) (*Decision, error) {
	presented = strings.TrimSpace(presented)

	var (
		d   *Decision
		err error
	)
	if v.cfg.Strategy == codec.StrategySigned {
		d, err = v.validateSigned(ctx, presented, requested)
	} else {
		d, err = v.validateOpaque(ctx, presented, requested)
	}

	reason := Reason(err)
	v.metrics.Validation(reason)
	if err != nil {
		level := slog.LevelInfo
		if !IsAccessDenied(err) && !errors.Is(err, ErrInvalidScope) {
			level = slog.LevelError
		}
		v.logger.Log(ctx, level, "credential rejected",
			"reference", codec.Redact(presented),
			"reason", reason,
			"error", err,
		)
		return nil, err
	}

	v.logger.Info("credential accepted",
		"reference", codec.Redact(presented),
		"resource_id", d.ResourceID,
		"recipient", d.Recipient.Email,
		"policy", d.Policy,
		"use_count", d.UseCount,
	)
	return d, nil
}

func (v *Validator) validateSigned(ctx context.Context, token string, requested model.Scope) (*Decision, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	claims, err := v.decode(token)
	if err != nil {
		return nil, err
	}
	scope, err := scopeFromClaims(claims)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	recipient := model.Recipient{Email: claims.Recipient(), Name: claims.Name, Organization: claims.Organization}
	if err := v.checkEligible(ctx, recipient.Email); err != nil {
		return nil, err
	}
	if err := checkScope(requested, scope); err != nil {
		return nil, err
	}

	return &Decision{
		CredentialID: claims.ID,
		Strategy:     codec.StrategySigned,
		ResourceID:   claims.ResourceID,
		ResourceName: claims.JobLabel,
		Recipient:    recipient,
		Scope:        scope,
		Policy:       model.PolicyMultiUse,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (v *Validator) decode(token string) (*codec.Claims, error) {
	if v.signer == nil {
		return nil, errors.New("signed strategy configured without a signer")
	}
	claims, err := v.signer.Decode(token)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, codec.ErrExpired):
		return nil, ErrExpired
	case errors.Is(err, codec.ErrWrongTokenType):
		return nil, ErrWrongTokenType
	default:
		return nil, ErrInvalidSignature
	}
}

func scopeFromClaims(c *codec.Claims) (model.Scope, error) {
	return model.ParseScope(strings.Join(c.Scope, ","))
}

func (v *Validator) validateOpaque(ctx context.Context, ref string, requested model.Scope) (*Decision, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	id := codec.HashReference(ref)
	now := v.Clock.Now()

	c, err := v.store.GetCredential(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("look up credential: %w", err)
	}
	if err := terminalError(c.State); err != nil {
		return nil, err
	}
	if c.ExpiredAt(now) {
		if err := v.store.MarkExpired(ctx, id); err != nil {
			v.logger.Warn("mark credential expired", "credential_id", id, "error", err)
		}
		return nil, ErrExpired
	}

	// Eligibility is checked before consumption so an ineligible recipient
	// does not burn a single-use link.
	if err := v.checkEligible(ctx, c.Recipient.Email); err != nil {
		return nil, err
	}
	if err := checkScope(requested, c.Scope); err != nil {
		return nil, err
	}

	if c.Policy == model.PolicySingleUse {
		c, err = v.store.MarkConsumed(ctx, id, now)
	} else {
		c, err = v.store.RecordUse(ctx, id, now)
	}
	if err != nil {
		return nil, err
	}

	return &Decision{
		CredentialID: c.ID,
		Strategy:     codec.StrategyOpaque,
		ResourceID:   c.ResourceID,
		Recipient:    c.Recipient,
		Scope:        c.Scope,
		Policy:       c.Policy,
		ExpiresAt:    c.ExpiresAt,
		UseCount:     c.UseCount,
	}, nil
}

func checkScope(requested, granted model.Scope) error {
	if len(requested) > 0 && len(requested.Intersect(granted)) == 0 {
		return ErrInvalidScope
	}
	return nil
}

func terminalError(state model.CredentialState) error {
	switch state {
	case model.CredentialConsumed:
		return ErrAlreadyConsumed
	case model.CredentialRevoked:
		return ErrRevoked
	case model.CredentialExpired:
		return ErrExpired
	}
	return nil
}

func (v *Validator) checkEligible(ctx context.Context, email string) error {
	if !v.cfg.RecheckEligibility || v.directory == nil {
		return nil
	}
	ok, err := v.directory.IsEligible(ctx, email)
	if err != nil {
		return fmt.Errorf("check recipient eligibility: %w", err)
	}
	if !ok {
		return ErrRecipientNotEligible
	}
	return nil
}

// Inspection describes a presented credential without using it.
type Inspection struct {
	Strategy   codec.Strategy    `json:"strategy"`
	Valid      bool              `json:"valid"`
	Reason     string            `json:"reason"`
	Credential *model.Credential `json:"credential,omitempty"`
	Claims     *codec.Claims     `json:"claims,omitempty"`
	Remaining  string            `json:"remaining,omitempty"`
}

// Inspect reports what Validate would decide for presented, without
// consuming, counting or expiring anything.
func (v *Validator) Inspect(ctx context.Context, presented string) (*Inspection, error) {
	presented = strings.TrimSpace(presented)
	now := v.Clock.Now()
	out := &Inspection{Strategy: v.cfg.Strategy}

	var (
		expiresAt time.Time
		recipient string
		denied    error
	)
	if v.cfg.Strategy == codec.StrategySigned {
		claims, err := v.decode(presented)
		if err != nil {
			out.Reason = Reason(err)
			return out, nil
		}
		out.Claims = claims
		expiresAt = claims.ExpiresAt.Time
		recipient = claims.Recipient()
	} else {
		c, err := v.store.GetCredential(ctx, codec.HashReference(presented))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				out.Reason = Reason(ErrNotFound)
				return out, nil
			}
			return nil, fmt.Errorf("look up credential: %w", err)
		}
		out.Credential = c
		expiresAt = c.ExpiresAt
		recipient = c.Recipient.Email
		denied = terminalError(c.State)
		if denied == nil && c.ExpiredAt(now) {
			denied = ErrExpired
		}
	}

	if denied == nil {
		if err := v.checkEligible(ctx, recipient); err != nil {
			if !IsAccessDenied(err) {
				return nil, err
			}
			denied = err
		}
	}
	out.Valid = denied == nil
	out.Reason = Reason(denied)
	if d := expiresAt.Sub(now); d > 0 {
		out.Remaining = d.Truncate(time.Second).String()
	}
	return out, nil
}
