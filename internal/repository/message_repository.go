package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magictalent/ai-agent-backend/internal/model"
)

// MessageRepository appends to the conversation history shown in the dashboard.
type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) Append(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Direction == "" {
		msg.Direction = "outbound"
	}

	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO messages
        (id, client_id, lead_id, campaign_id, sequence_item_id, channel, direction, subject, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `,
		msg.ID,
		msg.ClientID,
		msg.LeadID,
		msg.CampaignID,
		msg.SequenceItemID,
		string(msg.Channel),
		msg.Direction,
		msg.Subject,
		msg.Body,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

var _ MessageLog = (*MessageRepository)(nil)
