// internal/model/sequence_item.go
package model

import "time"

type Channel string

const (
    ChannelEmail    Channel = "email"
    ChannelSMS      Channel = "sms"
    ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is one of the supported outreach channels.
func (c Channel) Valid() bool {
    switch c {
    case ChannelEmail, ChannelSMS, ChannelWhatsApp:
        return true
    }
    return false
}

type StepType string

const (
    StepTypeEmail StepType = "email"
    StepTypeBook  StepType = "book"
)

type ItemStatus string

const (
    ItemStatusPending   ItemStatus = "pending"
    ItemStatusClaimed   ItemStatus = "claimed"
    ItemStatusSent      ItemStatus = "sent"
    ItemStatusFailed    ItemStatus = "failed"
    ItemStatusCancelled ItemStatus = "cancelled"
)

// Terminal reports whether the status is final for the item.
func (s ItemStatus) Terminal() bool {
    return s == ItemStatusSent || s == ItemStatusFailed || s == ItemStatusCancelled
}

type SequenceItem struct {
    ID         string     `db:"id" json:"id"`
    CampaignID string     `db:"campaign_id" json:"campaign_id"`
    ClientID   string     `db:"client_id" json:"client_id"`
    LeadID     string     `db:"lead_id" json:"lead_id"`
    Channel    Channel    `db:"channel" json:"channel"`
    Type       StepType   `db:"type" json:"type"`
    Step       int        `db:"step" json:"step"`
    Subject    string     `db:"subject" json:"subject"`
    Content    string     `db:"content" json:"content"`
    DueAt      time.Time  `db:"due_at" json:"due_at"`
    Status     ItemStatus `db:"status" json:"status"` // pending, claimed, sent, failed, cancelled
    ClaimedBy  string     `db:"claimed_by" json:"claimed_by,omitempty"`
    ClaimedAt  *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
    SentAt     *time.Time `db:"sent_at" json:"sent_at,omitempty"`
    LastError  string     `db:"last_error" json:"last_error,omitempty"`
    CreatedAt  time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusUpdate carries the fields written alongside a terminal status.
type StatusUpdate struct {
    Status    ItemStatus
    SentAt    *time.Time
    LastError string
    UpdatedAt time.Time
}
