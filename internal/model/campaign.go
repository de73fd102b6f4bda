// internal/model/campaign.go
package model

import "time"

type Campaign struct {
    ID        string    `db:"id" json:"id"`
    ClientID  string    `db:"client_id" json:"client_id"`
    Name      string    `db:"name" json:"name"`
    Channel   Channel   `db:"channel" json:"channel"`
    Status    string    `db:"status" json:"status"`
    CreatedAt time.Time `db:"created_at" json:"created_at"`
}
