// internal/model/message.go
package model

import "time"

// Message is one entry of a lead's conversation history.
type Message struct {
    ID             string    `db:"id" json:"id"`
    ClientID       string    `db:"client_id" json:"client_id"`
    LeadID         string    `db:"lead_id" json:"lead_id"`
    CampaignID     string    `db:"campaign_id" json:"campaign_id"`
    SequenceItemID string    `db:"sequence_item_id" json:"sequence_item_id"`
    Channel        Channel   `db:"channel" json:"channel"`
    Direction      string    `db:"direction" json:"direction"` // outbound, inbound
    Subject        string    `db:"subject" json:"subject,omitempty"`
    Body           string    `db:"body" json:"body"`
    CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
