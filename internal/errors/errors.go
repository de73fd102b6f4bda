// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Reason codes stored in sequence_items.last_error when an item fails
// before any send is attempted.
const (
	ReasonMissingEmail       = "missing_email"
	ReasonMissingPhone       = "missing_phone"
	ReasonUnsupportedChannel = "unsupported_channel"
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrNotConfigured  = errors.New("sender not configured")
	ErrClaimLost      = errors.New("item already claimed or no longer pending")
	ErrMissingLead    = errors.New("lead id or lead email is required")
)

// ErrCampaignNotFound is returned when a campaign lookup misses
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrLeadNotFound is returned when neither id nor email resolves a lead
type ErrLeadNotFound struct {
	Key string
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead %s not found", e.Key)
}

func NewLeadNotFound(key string) error {
	return &ErrLeadNotFound{Key: key}
}

// IsNotFound reports whether err is one of the not-found types above.
func IsNotFound(err error) bool {
	var campaign *ErrCampaignNotFound
	var lead *ErrLeadNotFound
	return errors.As(err, &campaign) || errors.As(err, &lead)
}
