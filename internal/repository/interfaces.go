package repository

import (
	"context"
	"time"

	"github.com/magictalent/ai-agent-backend/internal/model"
)

// SequenceStore is the queue table shared by the builder and the dispatcher.
type SequenceStore interface {
	InsertItems(ctx context.Context, items []*model.SequenceItem) error
	// FindPending returns pending items plus claimed items whose lease has
	// expired at now, ordered by due_at.
	FindPending(ctx context.Context, now time.Time) ([]*model.SequenceItem, error)
	// Claim moves an item from pending (or an expired claim) to claimed.
	// It reports false when another worker holds the item or it is terminal.
	Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error)
	// UpdateStatus applies a terminal transition to an item claimed by
	// workerID. It returns appErrors.ErrClaimLost if the item is no longer
	// claimed by that worker.
	UpdateStatus(ctx context.Context, id, workerID string, update model.StatusUpdate) error
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SequenceItem, error)
	CountByStatus(ctx context.Context, campaignID string) (map[string]int, error)
}

// LeadStore returns nil, nil when a lead does not exist.
type LeadStore interface {
	FindLeadByID(ctx context.Context, id string) (*model.Lead, error)
	FindLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error
}

type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

type MessageLog interface {
	Append(ctx context.Context, msg *model.Message) error
}

type TokenStore interface {
	AccessToken(ctx context.Context, clientID, provider string) (string, error)
}
