package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/magictalent/ai-agent-backend/internal/model"
)

// LeadRepository reads leads and records status changes made by the dispatcher.
type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, client_id, email, phone, first_name, last_name, company, status, updated_at`

// FindLeadByID fetches a lead by ID
func (r *LeadRepository) FindLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// FindLeadByEmail matches case-insensitively and picks the most recently updated row.
func (r *LeadRepository) FindLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	row := r.DB.QueryRowContext(ctx, `
        SELECT `+leadColumns+`
        FROM leads
        WHERE lower(email) = lower($1)
        ORDER BY updated_at DESC
        LIMIT 1
    `, email)
	return scanLead(row)
}

func (r *LeadRepository) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE leads SET status=$1, updated_at=$2 WHERE id=$3`, string(status), time.Now().UTC(), id)
	return err
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var status string
	if err := row.Scan(&l.ID, &l.ClientID, &l.Email, &l.Phone, &l.FirstName, &l.LastName, &l.Company, &status, &l.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	return &l, nil
}

var _ LeadStore = (*LeadRepository)(nil)
