package repository

import (
    "context"
    "database/sql"

    appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
    "github.com/magictalent/ai-agent-backend/internal/model"
)

type CampaignRepository struct {
    DB *sql.DB
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
    query := `
        SELECT id, client_id, name, channel, status, created_at
        FROM campaigns WHERE id=$1
    `
    var c model.Campaign
    var channel string
    err := r.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.ClientID, &c.Name, &channel, &c.Status, &c.CreatedAt)
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    c.Channel = model.Channel(channel)
    return &c, nil
}

var _ CampaignStore = (*CampaignRepository)(nil)
