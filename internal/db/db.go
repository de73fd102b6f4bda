// internal/db/db.go
package db

import (
    "context"
    "database/sql"
    "fmt"
    "time"

    _ "github.com/lib/pq"

    "github.com/magictalent/ai-agent-backend/internal/logging"
)

// Open connects to Postgres, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
    logger := logging.Component("db")

    conn, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, fmt.Errorf("open postgres: %w", err)
    }
    conn.SetMaxOpenConns(10)
    conn.SetMaxIdleConns(2)
    conn.SetConnMaxLifetime(time.Hour)
    conn.SetConnMaxIdleTime(30 * time.Minute)

    if err := conn.PingContext(ctx); err != nil {
        conn.Close()
        return nil, fmt.Errorf("ping postgres: %w", err)
    }

    if err := Migrate(ctx, conn); err != nil {
        conn.Close()
        return nil, fmt.Errorf("migrate: %w", err)
    }

    logger.Info().Msg("connected to database")
    return conn, nil
}

var schema = []struct {
    name string
    ddl  string
}{
    {"campaigns", `
        CREATE TABLE IF NOT EXISTS campaigns (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            name TEXT NOT NULL,
            channel TEXT NOT NULL DEFAULT 'email',
            status TEXT NOT NULL DEFAULT 'draft',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
    {"leads", `
        CREATE TABLE IF NOT EXISTS leads (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            company TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'new',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
    {"leads_email_idx", `CREATE INDEX IF NOT EXISTS idx_leads_email ON leads (lower(email))`},
    {"sequence_items", `
        CREATE TABLE IF NOT EXISTS sequence_items (
            id TEXT PRIMARY KEY,
            campaign_id TEXT NOT NULL,
            client_id TEXT NOT NULL,
            lead_id TEXT NOT NULL,
            channel TEXT NOT NULL,
            type TEXT NOT NULL,
            step INT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            content TEXT NOT NULL DEFAULT '',
            due_at TIMESTAMPTZ NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            claimed_by TEXT NOT NULL DEFAULT '',
            claimed_at TIMESTAMPTZ,
            sent_at TIMESTAMPTZ,
            last_error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
    {"sequence_items_due_idx", `CREATE INDEX IF NOT EXISTS idx_sequence_items_status_due ON sequence_items (status, due_at)`},
    {"sequence_items_campaign_idx", `CREATE INDEX IF NOT EXISTS idx_sequence_items_campaign ON sequence_items (campaign_id, due_at)`},
    {"messages", `
        CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            lead_id TEXT NOT NULL,
            campaign_id TEXT NOT NULL DEFAULT '',
            sequence_item_id TEXT NOT NULL DEFAULT '',
            channel TEXT NOT NULL,
            direction TEXT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            body TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
    {"oauth_tokens", `
        CREATE TABLE IF NOT EXISTS oauth_tokens (
            client_id TEXT NOT NULL,
            provider TEXT NOT NULL,
            access_token TEXT NOT NULL,
            expires_at TIMESTAMPTZ,
            PRIMARY KEY (client_id, provider)
        )`},
}

// Migrate creates the tables the engine reads and writes.
func Migrate(ctx context.Context, conn *sql.DB) error {
    for _, stmt := range schema {
        if _, err := conn.ExecContext(ctx, stmt.ddl); err != nil {
            return fmt.Errorf("create %s: %w", stmt.name, err)
        }
    }
    return nil
}
