package service

import (
	"context"

	"github.com/proposalgate/proposalgate/internal/model"
)

// ResourceLookup finds the resource a credential grants access to. It
// returns (nil, nil) when no resource matches id.
type ResourceLookup interface {
	FindResource(ctx context.Context, id string) (*model.Resource, error)
}

// RecipientDirectory answers whether a recipient may receive access. FindContact
// returns (nil, nil) for unknown recipients.
type RecipientDirectory interface {
	IsEligible(ctx context.Context, email string) (bool, error)
	FindContact(ctx context.Context, email string) (*model.Contact, error)
}

// Notifier delivers a templated message to a recipient.
type Notifier interface {
	Send(ctx context.Context, to model.Recipient, template string, vars map[string]any) error
}
