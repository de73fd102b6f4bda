// internal/model/lead.go
package model

import "time"

type LeadStatus string

const (
    LeadStatusNew              LeadStatus = "new"
    LeadStatusContacted        LeadStatus = "contacted"
    LeadStatusReplied          LeadStatus = "replied"
    LeadStatusMeetingScheduled LeadStatus = "meeting_scheduled"
    LeadStatusUnsubscribed     LeadStatus = "unsubscribed"
    LeadStatusClosedWon        LeadStatus = "closed_won"
    LeadStatusClosedLost       LeadStatus = "closed_lost"
)

// StopsOutreach reports whether no further sequence steps may reach a lead in this status.
func (s LeadStatus) StopsOutreach() bool {
    switch s {
    case LeadStatusMeetingScheduled, LeadStatusUnsubscribed, LeadStatusClosedWon, LeadStatusClosedLost:
        return true
    }
    return false
}

type Lead struct {
    ID        string     `db:"id" json:"id"`
    ClientID  string     `db:"client_id" json:"client_id"`
    Email     string     `db:"email" json:"email"`
    Phone     string     `db:"phone" json:"phone"`
    FirstName string     `db:"first_name" json:"first_name"`
    LastName  string     `db:"last_name" json:"last_name"`
    Company   string     `db:"company" json:"company"`
    Status    LeadStatus `db:"status" json:"status"`
    UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}
