// internal/controller/sequence_controller.go
package controller

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strconv"
    "strings"

    "github.com/go-chi/chi/v5"

    "github.com/magictalent/ai-agent-backend/internal/handler"
    "github.com/magictalent/ai-agent-backend/internal/model"
    "github.com/magictalent/ai-agent-backend/internal/queue"
    "github.com/magictalent/ai-agent-backend/internal/scheduler"
    "github.com/magictalent/ai-agent-backend/internal/service"
)

type SequenceBuilder interface {
    StartSequence(ctx context.Context, req service.StartSequenceRequest) (int, error)
    StartSequences(ctx context.Context, reqs []service.StartSequenceRequest) int
}

type QueueReader interface {
    ListQueueByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SequenceItem, error)
    QueueStats(ctx context.Context, campaignID string) (map[string]int, error)
}

type TickTrigger interface {
    TriggerNow(ctx context.Context, limit int) (*service.TickResult, error)
}

// SequenceController exposes the sequencing engine over HTTP.
type SequenceController struct {
    Builder SequenceBuilder
    Queue   QueueReader
    Ticker  TickTrigger
    // Publisher receives bulk starts; when nil they run inline.
    Publisher queue.Queue
}

// Routes mounts the sequence endpoints on r.
func (c *SequenceController) Routes(r chi.Router) {
    r.Post("/campaigns/{id}/sequences", c.StartSequence)
    r.Post("/campaigns/{id}/sequences/bulk", c.StartBulk)
    r.Get("/campaigns/{id}/queue", c.ListQueue)
    r.Get("/campaigns/{id}/queue/stats", c.QueueStats)
    r.Post("/sequences/tick", c.Tick)
}

type startBody struct {
    ClientID  string `json:"client_id"`
    LeadID    string `json:"lead_id"`
    LeadEmail string `json:"lead_email"`
    Channel   string `json:"channel"`
}

func (c *SequenceController) StartSequence(w http.ResponseWriter, r *http.Request) {
    campaignID := chi.URLParam(r, "id")

    var body startBody
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        handler.BadRequest(w, "invalid body")
        return
    }

    created, err := c.Builder.StartSequence(r.Context(), service.StartSequenceRequest{
        ClientID:   body.ClientID,
        CampaignID: campaignID,
        LeadID:     body.LeadID,
        LeadEmail:  body.LeadEmail,
        Channel:    model.Channel(body.Channel),
    })
    if err != nil {
        handler.WriteError(w, err)
        return
    }

    handler.WriteJSON(w, http.StatusCreated, map[string]int{"created": created})
}

func (c *SequenceController) StartBulk(w http.ResponseWriter, r *http.Request) {
    campaignID := chi.URLParam(r, "id")

    var body struct {
        ClientID   string   `json:"client_id"`
        Channel    string   `json:"channel"`
        LeadIDs    []string `json:"lead_ids"`
        LeadEmails []string `json:"lead_emails"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        handler.BadRequest(w, "invalid body")
        return
    }

    var reqs []service.StartSequenceRequest
    base := service.StartSequenceRequest{ClientID: body.ClientID, CampaignID: campaignID, Channel: model.Channel(body.Channel)}
    for _, id := range body.LeadIDs {
        if id = strings.TrimSpace(id); id != "" {
            req := base
            req.LeadID = id
            reqs = append(reqs, req)
        }
    }
    for _, email := range body.LeadEmails {
        if email = strings.TrimSpace(email); email != "" {
            req := base
            req.LeadEmail = email
            reqs = append(reqs, req)
        }
    }
    if len(reqs) == 0 {
        handler.BadRequest(w, "lead_ids or lead_emails required")
        return
    }
    if ch := model.Channel(strings.ToLower(strings.TrimSpace(body.Channel))); ch != "" && !ch.Valid() {
        handler.BadRequest(w, "invalid channel")
        return
    }

    if c.Publisher == nil {
        created := c.Builder.StartSequences(r.Context(), reqs)
        handler.WriteJSON(w, http.StatusCreated, map[string]int{"created": created})
        return
    }

    queued := 0
    for _, req := range reqs {
        if err := c.Publisher.Publish(r.Context(), queue.TopicSequenceStarts, req); err != nil {
            handler.WriteJSON(w, http.StatusInternalServerError, map[string]any{
                "error":  "failed to publish: " + err.Error(),
                "queued": queued,
            })
            return
        }
        queued++
    }
    handler.WriteJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (c *SequenceController) ListQueue(w http.ResponseWriter, r *http.Request) {
    campaignID := chi.URLParam(r, "id")

    limit := 0
    if s := r.URL.Query().Get("limit"); s != "" {
        n, err := strconv.Atoi(s)
        if err != nil || n < 0 {
            handler.BadRequest(w, "limit must be a non-negative integer")
            return
        }
        limit = n
    }

    items, err := c.Queue.ListQueueByCampaign(r.Context(), campaignID, limit)
    if err != nil {
        handler.WriteError(w, err)
        return
    }

    handler.WriteJSON(w, http.StatusOK, map[string]any{
        "campaign_id": campaignID,
        "items":       items,
    })
}

func (c *SequenceController) QueueStats(w http.ResponseWriter, r *http.Request) {
    campaignID := chi.URLParam(r, "id")

    stats, err := c.Queue.QueueStats(r.Context(), campaignID)
    if err != nil {
        handler.WriteError(w, err)
        return
    }

    handler.WriteJSON(w, http.StatusOK, map[string]any{
        "campaign_id": campaignID,
        "stats":       stats,
    })
}

// Tick runs one dispatch pass through the scheduler's run lock, so it never
// overlaps a scheduled tick.
func (c *SequenceController) Tick(w http.ResponseWriter, r *http.Request) {
    limit := 0
    if s := r.URL.Query().Get("limit"); s != "" {
        n, err := strconv.Atoi(s)
        if err != nil || n <= 0 {
            handler.BadRequest(w, "limit must be a positive integer")
            return
        }
        limit = n
    }

    result, err := c.Ticker.TriggerNow(r.Context(), limit)
    if errors.Is(err, scheduler.ErrTickInProgress) {
        handler.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
        return
    }
    if err != nil {
        handler.WriteError(w, err)
        return
    }
    handler.WriteJSON(w, http.StatusOK, result)
}
