package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// TemplateTempAccess is the notification template for new credentials.
const TemplateTempAccess = "temp_access"

// Notification states reported in IssueResult.
const (
	NotificationQueued   = "queued"
	NotificationSkipped  = "skipped"
	NotificationDisabled = "disabled"
)

// IssuanceConfig controls credential issuance.
type IssuanceConfig struct {
	Strategy        codec.Strategy
	DefaultDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	// ClampDuration clamps out-of-range durations into [Min, Max] instead of
	// rejecting them.
	ClampDuration bool
	// RequireApprovedRecipient restricts issuance to recipients the
	// directory reports as eligible.
	RequireApprovedRecipient bool
	SingleUse                bool
	BaseURL                  string
	QueryParam               string
	DefaultScope             model.Scope
	NotifyTimeout            time.Duration
}

// DefaultIssuanceConfig returns the default issuance policy.
func DefaultIssuanceConfig() IssuanceConfig {
	return IssuanceConfig{
		Strategy:        codec.StrategyOpaque,
		DefaultDuration: 20 * time.Minute,
		MinDuration:     time.Minute,
		MaxDuration:     7 * 24 * time.Hour,
		ClampDuration:   true,
		SingleUse:       true,
		BaseURL:         "http://localhost:3000/proposal/view",
		QueryParam:      "t",
		DefaultScope:    model.DefaultScope(),
		NotifyTimeout:   30 * time.Second,
	}
}

// IssueRequest asks for a new credential.
type IssueRequest struct {
	ResourceID string `json:"resource_id"`
	Recipient  string `json:"recipient"`
	// DurationSeconds is the validity window. Zero means the configured
	// default; negative values are rejected.
	DurationSeconds int         `json:"duration_seconds"`
	Scope           model.Scope `json:"scope,omitempty"`
	IssuedBy        string      `json:"-"`
	// SkipNotification suppresses the email; the URL is still returned.
	SkipNotification bool `json:"skip_notification,omitempty"`
}

// IssueResult is returned once a credential has been minted. Reference is
// the only copy of the secret.
type IssueResult struct {
	CredentialID string          `json:"credential_id"`
	Reference    string          `json:"reference"`
	URL          string          `json:"url"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Duration     int             `json:"duration_seconds"`
	Strategy     codec.Strategy  `json:"strategy"`
	Policy       model.Policy    `json:"policy"`
	Scope        model.Scope     `json:"scope"`
	Resource     *model.Resource `json:"resource"`
	Recipient    model.Recipient `json:"recipient"`
	Notification string          `json:"notification"`
}

// Issuer mints credentials.
type Issuer struct {
	cfg       IssuanceConfig
	store     store.Store
	signer    *codec.Signer
	resources ResourceLookup
	directory RecipientDirectory
	notifier  Notifier
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	Clock clock.Clock

	wg sync.WaitGroup
}

// IssuerDeps bundles the collaborators of an Issuer. Store is required for
// the opaque strategy and Signer for the signed strategy; the rest are
// optional.
type IssuerDeps struct {
	Store     store.Store
	Signer    *codec.Signer
	Resources ResourceLookup
	Directory RecipientDirectory
	Notifier  Notifier
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg IssuanceConfig, deps IssuerDeps) *Issuer {
	if cfg.Strategy == "" {
		cfg.Strategy = codec.StrategyOpaque
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "t"
	}
	if len(cfg.DefaultScope) == 0 {
		cfg.DefaultScope = model.DefaultScope()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		cfg:       cfg,
		store:     deps.Store,
		signer:    deps.Signer,
		resources: deps.Resources,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		logger:    logger,
		metrics:   deps.Metrics,
		Clock:     clock.New(),
	}
}

// Issue authorizes and mints a credential, then queues the notification in
// the background. A failed notification never fails the issuance.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	email, err := normalizeEmail(req.Recipient)
	if err != nil {
		return nil, err
	}

	resource, err := i.findResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}

	contact, err := i.findContact(ctx, email)
	if err != nil {
		return nil, err
	}
	if i.cfg.RequireApprovedRecipient {
		if i.directory == nil {
			return nil, ErrRecipientNotEligible
		}
		ok, err := i.directory.IsEligible(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("check recipient eligibility: %w", err)
		}
		if !ok {
			return nil, ErrRecipientNotEligible
		}
	}
	recipient := model.Recipient{Email: email, Name: nameFromEmail(email)}
	if contact != nil {
		if contact.FullName != "" {
			recipient.Name = contact.FullName
		}
		recipient.Organization = contact.Organization
	}

	duration, err := i.resolveDuration(req.DurationSeconds)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if len(scope) == 0 {
		scope = i.cfg.DefaultScope
	}

	var res *IssueResult
	if i.cfg.Strategy == codec.StrategySigned {
		res, err = i.mintSigned(resource, recipient, scope, duration)
	} else {
		res, err = i.mintOpaque(ctx, resource, recipient, scope, duration, req.IssuedBy)
	}
	if err != nil {
		return nil, err
	}

	res.URL, err = i.shareableURL(res.Reference)
	if err != nil {
		return nil, err
	}
	res.Resource = resource
	res.Recipient = recipient
	res.Scope = scope
	res.Strategy = i.cfg.Strategy
	res.Duration = int(duration / time.Second)

	switch {
	case i.notifier == nil:
		res.Notification = NotificationDisabled
	case req.SkipNotification:
		res.Notification = NotificationSkipped
	default:
		i.notify(res)
		res.Notification = NotificationQueued
	}

	i.metrics.CredentialIssued(string(i.cfg.Strategy))
	i.logger.Info("credential issued",
		"reference", codec.Redact(res.Reference),
		"resource_id", resource.ID,
		"recipient", email,
		"issued_by", req.IssuedBy,
		"expires_at", res.ExpiresAt,
		"policy", res.Policy,
	)
	return res, nil
}

func (i *Issuer) findResource(ctx context.Context, id string) (*model.Resource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrResourceNotFound
	}
	if i.resources == nil {
		return &model.Resource{ID: id, DisplayName: id}, nil
	}
	r, err := i.resources.FindResource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find resource: %w", err)
	}
	if r == nil {
		return nil, ErrResourceNotFound
	}
	return r, nil
}

func (i *Issuer) findContact(ctx context.Context, email string) (*model.Contact, error) {
	if i.directory == nil {
		return nil, nil
	}
	c, err := i.directory.FindContact(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return c, nil
}

// resolveDuration applies the default and the [min, max] bounds.
func (i *Issuer) resolveDuration(seconds int) (time.Duration, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("%w: %ds is negative", ErrDurationOutOfBounds, seconds)
	}
	d := time.Duration(seconds) * time.Second
	if seconds == 0 {
		d = i.cfg.DefaultDuration
	}
	switch {
	case i.cfg.MinDuration > 0 && d < i.cfg.MinDuration:
		if !i.cfg.ClampDuration {
			return 0, fmt.Errorf("%w: %s is below the minimum %s", ErrDurationOutOfBounds, d, i.cfg.MinDuration)
		}
		d = i.cfg.MinDuration
	case i.cfg.MaxDuration > 0 && d > i.cfg.MaxDuration:
		if !i.cfg.ClampDuration {
			return 0, fmt.Errorf("%w: %s exceeds the maximum %s", ErrDurationOutOfBounds, d, i.cfg.MaxDuration)
		}
		d = i.cfg.MaxDuration
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: no default duration configured", ErrDurationOutOfBounds)
	}
	return d, nil
}

const maxMintAttempts = 3

func (i *Issuer) mintOpaque(ctx context.Context, resource *model.Resource, recipient model.Recipient, scope model.Scope, d time.Duration, issuedBy string) (*IssueResult, error) {
	if i.store == nil {
		return nil, errors.New("opaque strategy configured without a store")
	}
	policy := model.PolicyMultiUse
	if i.cfg.SingleUse {
		policy = model.PolicySingleUse
	}

	for attempt := 1; ; attempt++ {
		now := i.Clock.Now().UTC()
		ref, err := codec.GenerateReference(recipient.Email, now)
		if err != nil {
			return nil, err
		}
		c := &model.Credential{
			ID:         codec.HashReference(ref),
			Reference:  ref,
			Prefix:     codec.Prefix(ref),
			ResourceID: resource.ID,
			Recipient:  recipient,
			Scope:      scope,
			Policy:     policy,
			State:      model.CredentialActive,
			IssuedAt:   now,
			ExpiresAt:  now.Add(d),
			IssuedBy:   issuedBy,
		}
		err = i.store.PutCredential(ctx, c)
		if errors.Is(err, store.ErrDuplicateReference) && attempt < maxMintAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store credential: %w", err)
		}
		return &IssueResult{
			CredentialID: c.ID,
			Reference:    ref,
			ExpiresAt:    c.ExpiresAt,
			Policy:       policy,
		}, nil
	}
}

func (i *Issuer) mintSigned(resource *model.Resource, recipient model.Recipient, scope model.Scope, d time.Duration) (*IssueResult, error) {
	if i.signer == nil {
		return nil, errors.New("signed strategy configured without a signer")
	}
	claims := codec.Claims{
		ResourceID:   resource.ID,
		JobLabel:     resource.Label(),
		Scope:        scope.Strings(),
		Name:         recipient.Name,
		Organization: recipient.Organization,
	}
	claims.Subject = recipient.Email
	token, out, err := i.signer.Encode(claims, d)
	if err != nil {
		return nil, err
	}
	return &IssueResult{
		CredentialID: out.ID,
		Reference:    token,
		ExpiresAt:    out.ExpiresAt.Time,
		Policy:       model.PolicyMultiUse,
	}, nil
}

func (i *Issuer) shareableURL(ref string) (string, error) {
	if i.cfg.BaseURL == "" {
		return "", nil
	}
	u, err := url.Parse(i.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(i.cfg.QueryParam, ref)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (i *Issuer) notify(res *IssueResult) {
	vars := map[string]any{
		"RecipientName": res.Recipient.Name,
		"Organization":  res.Recipient.Organization,
		"ResourceLabel": res.Resource.Label(),
		"ResourceName":  res.Resource.DisplayName,
		"Venue":         res.Resource.Venue,
		"TotalValue":    res.Resource.TotalValue,
		"URL":           res.URL,
		"ExpiresAt":     res.ExpiresAt,
		"Duration":      (time.Duration(res.Duration) * time.Second).String(),
	}
	to := res.Recipient
	prefix := codec.Redact(res.Reference)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), i.cfg.NotifyTimeout)
		defer cancel()

		if err := i.notifier.Send(ctx, to, TemplateTempAccess, vars); err != nil {
			i.metrics.Notification("failed")
			i.logger.Warn("access notification failed; share the link manually",
				"reference", prefix,
				"recipient", to.Email,
				"error", err,
			)
			return
		}
		i.metrics.Notification("sent")
		i.logger.Info("access notification sent", "reference", prefix, "recipient", to.Email)
	}()
}

// Wait blocks until in-flight notifications have finished.
func (i *Issuer) Wait() {
	i.wg.Wait()
}

// Revoke invalidates a stored credential. Revoking a credential that is
// already consumed, expired or revoked succeeds without changing it.
func (i *Issuer) Revoke(ctx context.Context, credentialID, by string) error {
	if i.cfg.Strategy == codec.StrategySigned {
		return ErrUnsupported
	}
	if err := i.store.RevokeCredential(ctx, credentialID, by, i.Clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("revoke credential: %w", err)
	}
	i.logger.Info("credential revoked", "credential_id", credentialID, "revoked_by", by)
	return nil
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrInvalidRecipient
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return s, nil
}

// nameFromEmail derives a display name from the local part:
// "jane.doe@example.com" becomes "Jane Doe".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return email
	}
	return strings.Join(words, " ")
}
