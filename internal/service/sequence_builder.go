// internal/service/sequence_builder.go
package service

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/magictalent/ai-agent-backend/internal/clock"
    appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
    "github.com/magictalent/ai-agent-backend/internal/logging"
    "github.com/magictalent/ai-agent-backend/internal/model"
    "github.com/magictalent/ai-agent-backend/internal/repository"
)

// StartSequenceRequest identifies the lead to enrol. LeadEmail is only used
// when LeadID is empty or does not resolve.
type StartSequenceRequest struct {
    ClientID   string        `json:"client_id"`
    CampaignID string        `json:"campaign_id"`
    LeadID     string        `json:"lead_id,omitempty"`
    LeadEmail  string        `json:"lead_email,omitempty"`
    Channel    model.Channel `json:"channel,omitempty"`
}

// SequenceBuilder turns a start request into queued sequence items.
type SequenceBuilder struct {
    Store     repository.SequenceStore
    Leads     repository.LeadStore
    Campaigns repository.CampaignStore
    Clock     clock.Clock
}

func NewSequenceBuilder(store repository.SequenceStore, leads repository.LeadStore, campaigns repository.CampaignStore, clk clock.Clock) *SequenceBuilder {
    return &SequenceBuilder{Store: store, Leads: leads, Campaigns: campaigns, Clock: clk}
}

// StartSequence persists the four steps for one lead and returns how many
// were created. Missing lead or campaign details never fail the call.
func (b *SequenceBuilder) StartSequence(ctx context.Context, req StartSequenceRequest) (int, error) {
    log := logging.Component("builder")

    req.LeadID = strings.TrimSpace(req.LeadID)
    req.LeadEmail = strings.TrimSpace(req.LeadEmail)
    if req.LeadID == "" && req.LeadEmail == "" {
        return 0, appErrors.ErrMissingLead
    }

    requested := model.Channel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
    if requested != "" && !requested.Valid() {
        return 0, fmt.Errorf("%w: %q", appErrors.ErrInvalidChannel, req.Channel)
    }

    lead := b.resolveLead(ctx, req)
    campaign := b.lookupCampaign(ctx, req.CampaignID)

    channel := requested
    if channel == "" && campaign != nil && campaign.Channel.Valid() {
        channel = campaign.Channel
    }
    if channel == "" {
        channel = model.ChannelEmail
    }

    clientID := req.ClientID
    if clientID == "" && campaign != nil {
        clientID = campaign.ClientID
    }
    leadID := req.LeadID
    if lead != nil {
        leadID = lead.ID
    }

    now := b.now()
    data := templateData(lead, campaign)
    items := make([]*model.SequenceItem, 0, len(sequenceSteps))
    for i, step := range sequenceSteps {
        items = append(items, &model.SequenceItem{
            ID:         uuid.NewString(),
            CampaignID: req.CampaignID,
            ClientID:   clientID,
            LeadID:     leadID,
            Channel:    channel,
            Type:       step.Type,
            Step:       i + 1,
            Subject:    RenderTemplate(step.Subject, data),
            Content:    RenderTemplate(step.Body, data),
            DueAt:      now.Add(step.Offset),
            Status:     model.ItemStatusPending,
            CreatedAt:  now,
            UpdatedAt:  now,
        })
    }

    if err := b.Store.InsertItems(ctx, items); err != nil {
        return 0, fmt.Errorf("insert sequence items: %w", err)
    }

    log.Info().
        Str("campaign_id", req.CampaignID).
        Str("lead_id", leadID).
        Str("channel", string(channel)).
        Int("steps", len(items)).
        Msg("sequence started")
    return len(items), nil
}

// StartSequences starts each request independently and returns the total
// number of items created. Failures are logged and skipped.
func (b *SequenceBuilder) StartSequences(ctx context.Context, reqs []StartSequenceRequest) int {
    log := logging.Component("builder")
    total := 0
    for _, req := range reqs {
        n, err := b.StartSequence(ctx, req)
        if err != nil {
            log.Warn().Err(err).
                Str("campaign_id", req.CampaignID).
                Str("lead_id", req.LeadID).
                Str("lead_email", req.LeadEmail).
                Msg("sequence start failed")
            continue
        }
        total += n
    }
    return total
}

func (b *SequenceBuilder) resolveLead(ctx context.Context, req StartSequenceRequest) *model.Lead {
    if b.Leads == nil {
        return nil
    }
    log := logging.Component("builder")

    if req.LeadID != "" {
        lead, err := b.Leads.FindLeadByID(ctx, req.LeadID)
        if err != nil {
            log.Warn().Err(err).Str("lead_id", req.LeadID).Msg("lead lookup by id failed")
        } else if lead != nil {
            return lead
        }
    }
    if req.LeadEmail != "" {
        lead, err := b.Leads.FindLeadByEmail(ctx, req.LeadEmail)
        if err != nil {
            log.Warn().Err(err).Str("lead_email", req.LeadEmail).Msg("lead lookup by email failed")
        } else if lead != nil {
            return lead
        }
    }
    return nil
}

func (b *SequenceBuilder) lookupCampaign(ctx context.Context, campaignID string) *model.Campaign {
    if b.Campaigns == nil || campaignID == "" {
        return nil
    }
    campaign, err := b.Campaigns.GetByID(ctx, campaignID)
    if err != nil {
        var notFound *appErrors.ErrCampaignNotFound
        if !errors.As(err, &notFound) {
            log := logging.Component("builder")
            log.Warn().Err(err).Str("campaign_id", campaignID).Msg("campaign lookup failed")
        }
        return nil
    }
    return campaign
}

func (b *SequenceBuilder) now() time.Time {
    if b.Clock == nil {
        return clock.Real{}.Now()
    }
    return b.Clock.Now()
}
