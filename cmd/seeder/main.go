//cmd/seeder/main.go
package main

import (
    "context"
    "database/sql"
    "fmt"
    "os"
    "path/filepath"

    "github.com/spf13/cobra"

    "github.com/magictalent/ai-agent-backend/internal/app"
    "github.com/magictalent/ai-agent-backend/internal/clock"
    "github.com/magictalent/ai-agent-backend/internal/config"
    "github.com/magictalent/ai-agent-backend/internal/logging"
    "github.com/magictalent/ai-agent-backend/internal/service"
)

var (
    seedDir        string
    enrollCampaign string
)

var seedFiles = []string{
    "campaigns.sql",
    "leads.sql",
}

func init() {
    rootCmd.Flags().StringVar(&seedDir, "dir", "seed", "directory containing the seed SQL files")
    rootCmd.Flags().StringVar(&enrollCampaign, "enroll", "", "start a sequence in this campaign for each of its client's leads")
}

var rootCmd = &cobra.Command{
    Use:           "seeder",
    Short:         "Load demo campaigns and leads into Postgres",
    Args:          cobra.NoArgs,
    SilenceUsage:  true,
    SilenceErrors: true,
    RunE:          runSeeder,
}

func main() {
    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "seeder:", err)
        os.Exit(1)
    }
}

func runSeeder(cmd *cobra.Command, args []string) error {
    cfg, err := config.Load()
    if err != nil {
        return err
    }
    if cfg.StoreDriver != "postgres" {
        return fmt.Errorf("seeder needs STORE_DRIVER=postgres, got %s", cfg.StoreDriver)
    }
    logging.Init(cfg.LogLevel, !cfg.LogJSON)
    log := logging.Component("seeder")
    ctx := cmd.Context()

    stores, err := app.OpenStores(ctx, cfg)
    if err != nil {
        return err
    }
    defer stores.Close()

    for _, file := range seedFiles {
        path := filepath.Join(seedDir, file)
        content, err := os.ReadFile(path)
        if err != nil {
            return fmt.Errorf("failed to read %s: %w", path, err)
        }
        if _, err := stores.DB.ExecContext(ctx, string(content)); err != nil {
            return fmt.Errorf("failed to execute %s: %w", path, err)
        }
        log.Info().Str("file", path).Msg("seeded")
    }

    if enrollCampaign == "" {
        log.Info().Msg("database seeding completed")
        return nil
    }

    reqs, err := enrollRequests(ctx, stores.DB, enrollCampaign)
    if err != nil {
        return err
    }
    created := app.NewBuilder(stores, clock.Real{}).StartSequences(ctx, reqs)
    log.Info().
        Str("campaign_id", enrollCampaign).
        Int("leads", len(reqs)).
        Int("items", created).
        Msg("leads enrolled")
    return nil
}

// enrollRequests builds one start request per lead belonging to the
// campaign's client.
func enrollRequests(ctx context.Context, conn *sql.DB, campaignID string) ([]service.StartSequenceRequest, error) {
    rows, err := conn.QueryContext(ctx, `
        SELECT l.id, c.client_id
        FROM leads l
        JOIN campaigns c ON c.client_id = l.client_id
        WHERE c.id = $1
        ORDER BY l.id`, campaignID)
    if err != nil {
        return nil, fmt.Errorf("list leads for %s: %w", campaignID, err)
    }
    defer rows.Close()

    var reqs []service.StartSequenceRequest
    for rows.Next() {
        req := service.StartSequenceRequest{CampaignID: campaignID}
        if err := rows.Scan(&req.LeadID, &req.ClientID); err != nil {
            return nil, err
        }
        reqs = append(reqs, req)
    }
    return reqs, rows.Err()
}
