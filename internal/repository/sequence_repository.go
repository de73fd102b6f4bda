package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/model"
)

const sequenceItemColumns = `id, campaign_id, client_id, lead_id, channel, type, step, subject, content,
        due_at, status, claimed_by, claimed_at, sent_at, last_error, created_at, updated_at`

type SequenceRepository struct {
	DB *sql.DB
	// LeaseTimeout is how long a claim is honoured before another worker
	// may take the item over. Zero disables reclaiming.
	LeaseTimeout time.Duration
}

// InsertItems writes all items in one transaction.
func (r *SequenceRepository) InsertItems(ctx context.Context, items []*model.SequenceItem) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO sequence_items
        (id, campaign_id, client_id, lead_id, channel, type, step, subject, content, due_at, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	for _, item := range items {
		_, err := tx.ExecContext(ctx, query,
			item.ID,
			item.CampaignID,
			item.ClientID,
			item.LeadID,
			string(item.Channel),
			string(item.Type),
			item.Step,
			item.Subject,
			item.Content,
			item.DueAt,
			string(item.Status),
			item.CreatedAt,
			item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert sequence item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SequenceRepository) FindPending(ctx context.Context, now time.Time) ([]*model.SequenceItem, error) {
	query := `SELECT ` + sequenceItemColumns + ` FROM sequence_items WHERE status = 'pending'`
	args := []any{}
	if r.LeaseTimeout > 0 {
		query += ` OR (status = 'claimed' AND claimed_at < $1)`
		args = append(args, now.Add(-r.LeaseTimeout))
	}
	query += ` ORDER BY due_at ASC, created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *SequenceRepository) Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	query := `
        UPDATE sequence_items
        SET status = 'claimed', claimed_by = $1, claimed_at = $2, updated_at = $2
        WHERE id = $3 AND (status = 'pending'`
	args := []any{workerID, now, id}
	if r.LeaseTimeout > 0 {
		query += ` OR (status = 'claimed' AND claimed_at < $4)`
		args = append(args, now.Add(-r.LeaseTimeout))
	}
	query += `)`

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SequenceRepository) UpdateStatus(ctx context.Context, id, workerID string, update model.StatusUpdate) error {
	query := `
        UPDATE sequence_items
        SET status = $1, sent_at = $2, last_error = $3, updated_at = $4
        WHERE id = $5 AND status = 'claimed' AND claimed_by = $6
    `
	res, err := r.DB.ExecContext(ctx, query, string(update.Status), update.SentAt, update.LastError, update.UpdatedAt, id, workerID)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrClaimLost
	}
	return nil
}

func (r *SequenceRepository) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SequenceItem, error) {
	query := `SELECT ` + sequenceItemColumns + `
        FROM sequence_items
        WHERE campaign_id = $1
        ORDER BY due_at ASC, created_at ASC
        LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *SequenceRepository) CountByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM sequence_items WHERE campaign_id = $1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func newStats() map[string]int {
	return map[string]int{
		"total":     0,
		"pending":   0,
		"claimed":   0,
		"sent":      0,
		"failed":    0,
		"cancelled": 0,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItems(rows *sql.Rows) ([]*model.SequenceItem, error) {
	items := []*model.SequenceItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*model.SequenceItem, error) {
	var (
		item              model.SequenceItem
		channel, kind     string
		status            string
		claimedAt, sentAt sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.CampaignID, &item.ClientID, &item.LeadID,
		&channel, &kind, &item.Step, &item.Subject, &item.Content,
		&item.DueAt, &status, &item.ClaimedBy, &claimedAt, &sentAt,
		&item.LastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Channel = model.Channel(channel)
	item.Type = model.StepType(kind)
	item.Status = model.ItemStatus(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		item.ClaimedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		item.SentAt = &t
	}
	return &item, nil
}

var _ SequenceStore = (*SequenceRepository)(nil)
