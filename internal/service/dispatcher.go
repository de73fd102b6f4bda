// internal/service/dispatcher.go
package service

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/magictalent/ai-agent-backend/internal/channels"
    "github.com/magictalent/ai-agent-backend/internal/clock"
    appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
    "github.com/magictalent/ai-agent-backend/internal/logging"
    "github.com/magictalent/ai-agent-backend/internal/model"
    "github.com/magictalent/ai-agent-backend/internal/repository"
)

const (
    DefaultTickLimit       = 50
    DefaultDispatchTimeout = 30 * time.Second
    DefaultQueueLimit      = 100
    MaxQueueLimit          = 500

    // BookingLeadTime is how far ahead of dispatch a booked meeting starts.
    BookingLeadTime = 48 * time.Hour
)

// OutcomeError marks an item whose processing failed inside the dispatcher
// itself rather than at a channel.
const OutcomeError = "error"

// ItemOutcome is the per-item entry of a tick result.
type ItemOutcome struct {
    ID     string `json:"id"`
    Status string `json:"status"`
    Error  string `json:"error,omitempty"`
}

type TickResult struct {
    Processed int           `json:"processed"`
    Results   []ItemOutcome `json:"results"`
}

// Dispatcher sends due sequence items through their channel.
type Dispatcher struct {
    Store      repository.SequenceStore
    Leads      repository.LeadStore
    MessageLog repository.MessageLog

    Email    channels.EmailSender
    SMS      channels.TextSender
    WhatsApp channels.TextSender
    Calendar channels.Calendar

    Clock           clock.Clock
    WorkerID        string
    DispatchTimeout time.Duration
    // LogAllChannels appends SMS and WhatsApp sends to the message log too.
    // Email sends are always logged.
    LogAllChannels bool
}

// Tick processes up to limit due items, earliest first. It never fails:
// every claimed item gets an outcome.
//
// Cancelling ctx stops further claims. An item already claimed runs to
// completion, bounded only by DispatchTimeout.
func (d *Dispatcher) Tick(ctx context.Context, limit int) *TickResult {
    log := logging.Component("dispatcher")
    result := &TickResult{Results: []ItemOutcome{}}
    if limit <= 0 {
        limit = DefaultTickLimit
    }

    due, err := d.selectDue(ctx, d.now(), limit)
    if err != nil {
        log.Error().Err(err).Msg("due scan failed")
        return result
    }

    dispatchCtx := context.WithoutCancel(ctx)
    for _, item := range due {
        if ctx.Err() != nil {
            log.Warn().Err(ctx.Err()).Msg("tick interrupted, leaving remaining items pending")
            break
        }
        claimed, err := d.Store.Claim(dispatchCtx, item.ID, d.WorkerID, d.now())
        if err != nil {
            log.Error().Err(err).Str("item_id", item.ID).Msg("claim failed")
            result.Results = append(result.Results, ItemOutcome{ID: item.ID, Status: OutcomeError, Error: err.Error()})
            continue
        }
        if !claimed {
            log.Debug().Str("item_id", item.ID).Msg("item claimed by another worker")
            continue
        }
        result.Results = append(result.Results, d.process(dispatchCtx, item))
    }

    result.Processed = len(result.Results)
    if result.Processed > 0 {
        log.Info().Int("processed", result.Processed).Msg("tick complete")
    }
    return result
}

// selectDue filters to due_at <= now and sorts explicitly; the store's
// ordering is not relied on.
func (d *Dispatcher) selectDue(ctx context.Context, now time.Time, limit int) ([]*model.SequenceItem, error) {
    candidates, err := d.Store.FindPending(ctx, now)
    if err != nil {
        return nil, err
    }
    due := make([]*model.SequenceItem, 0, len(candidates))
    for _, item := range candidates {
        if !item.DueAt.After(now) {
            due = append(due, item)
        }
    }
    sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
    if len(due) > limit {
        due = due[:limit]
    }
    return due, nil
}

// process handles one claimed item. Panics and internal errors are turned
// into an error outcome and the row is marked failed when possible.
func (d *Dispatcher) process(ctx context.Context, item *model.SequenceItem) (out ItemOutcome) {
    log := logging.Component("dispatcher").With().
        Str("item_id", item.ID).
        Str("lead_id", item.LeadID).
        Str("channel", string(item.Channel)).
        Str("type", string(item.Type)).
        Logger()

    defer func() {
        if r := recover(); r != nil {
            out = d.fail(ctx, log, item, fmt.Errorf("panic: %v", r))
        }
    }()

    itemCtx, cancel := context.WithTimeout(ctx, d.timeout())
    defer cancel()

    status, lastError, err := d.handle(itemCtx, log, item)
    if err != nil {
        return d.fail(ctx, log, item, err)
    }

    now := d.now()
    update := model.StatusUpdate{Status: status, LastError: lastError, UpdatedAt: now}
    if status == model.ItemStatusSent {
        update.SentAt = &now
    }
    if err := d.Store.UpdateStatus(ctx, item.ID, d.WorkerID, update); err != nil {
        log.Error().Err(err).Msg("status update failed")
        return ItemOutcome{ID: item.ID, Status: OutcomeError, Error: err.Error()}
    }

    ev := log.Info()
    if status == model.ItemStatusFailed {
        ev = log.Warn().Str("last_error", lastError)
    }
    ev.Str("status", string(status)).Msg("item dispatched")
    return ItemOutcome{ID: item.ID, Status: string(status), Error: lastError}
}

func (d *Dispatcher) fail(ctx context.Context, log zerolog.Logger, item *model.SequenceItem, cause error) ItemOutcome {
    log.Error().Err(cause).Msg("item processing failed")
    update := model.StatusUpdate{
        Status:    model.ItemStatusFailed,
        LastError: cause.Error(),
        UpdatedAt: d.now(),
    }
    if err := d.Store.UpdateStatus(ctx, item.ID, d.WorkerID, update); err != nil && !errors.Is(err, appErrors.ErrClaimLost) {
        log.Error().Err(err).Msg("could not mark item failed")
    }
    return ItemOutcome{ID: item.ID, Status: OutcomeError, Error: cause.Error()}
}

// handle returns the terminal status for item and the text for last_error.
// A non-nil error means the dispatcher itself failed.
func (d *Dispatcher) handle(ctx context.Context, log zerolog.Logger, item *model.SequenceItem) (model.ItemStatus, string, error) {
    var lead *model.Lead
    if item.LeadID != "" && d.Leads != nil {
        found, err := d.Leads.FindLeadByID(ctx, item.LeadID)
        if err != nil {
            return "", "", fmt.Errorf("load lead %s: %w", item.LeadID, err)
        }
        lead = found
    }

    if lead != nil && lead.Status.StopsOutreach() {
        log.Info().Str("lead_status", string(lead.Status)).Msg("lead stopped outreach")
        return model.ItemStatusCancelled, "", nil
    }

    switch r := routeFor(item, lead).(type) {
    case bookRoute:
        return d.book(ctx, log, item, lead)
    case emailRoute:
        if r.to == "" {
            return model.ItemStatusFailed, appErrors.ReasonMissingEmail, nil
        }
        if err := d.emailSender().Send(ctx, r.to, item.Subject, item.Content); err != nil {
            return model.ItemStatusFailed, err.Error(), nil
        }
        d.logMessage(ctx, log, item)
        return model.ItemStatusSent, "", nil
    case smsRoute:
        return d.sendText(ctx, log, item, d.SMS, "sms", r.to)
    case whatsappRoute:
        return d.sendText(ctx, log, item, d.WhatsApp, "whatsapp", r.to)
    case unsupportedRoute:
        log.Warn().Str("route_channel", string(r.channel)).Str("route_type", string(r.kind)).Msg("no route for item")
        return model.ItemStatusFailed, appErrors.ReasonUnsupportedChannel, nil
    default:
        return "", "", fmt.Errorf("no handler for route %T", r)
    }
}

func (d *Dispatcher) book(ctx context.Context, log zerolog.Logger, item *model.SequenceItem, lead *model.Lead) (model.ItemStatus, string, error) {
    ev := channels.Event{
        Summary:     item.Subject,
        Description: item.Content,
        StartTime:   d.now().Add(BookingLeadTime),
    }
    if lead != nil && strings.TrimSpace(lead.Email) != "" {
        ev.Attendees = []string{strings.TrimSpace(lead.Email)}
    }

    cal := d.Calendar
    if cal == nil {
        cal = channels.Unconfigured{Name: "calendar"}
    }
    eventID, err := cal.CreateEvent(ctx, item.ClientID, ev)
    if err != nil {
        return model.ItemStatusFailed, err.Error(), nil
    }
    log.Info().Str("event_id", eventID).Msg("meeting booked")

    if lead != nil {
        if err := d.Leads.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusMeetingScheduled); err != nil {
            // The event exists, so the item is still sent.
            log.Error().Err(err).Msg("lead status update failed")
        }
    }
    return model.ItemStatusSent, "", nil
}

func (d *Dispatcher) sendText(ctx context.Context, log zerolog.Logger, item *model.SequenceItem, sender channels.TextSender, name, to string) (model.ItemStatus, string, error) {
    if to == "" {
        return model.ItemStatusFailed, appErrors.ReasonMissingPhone, nil
    }
    if sender == nil {
        sender = channels.Unconfigured{Name: name}
    }
    if err := sender.Send(ctx, to, item.Content); err != nil {
        return model.ItemStatusFailed, err.Error(), nil
    }
    if d.LogAllChannels {
        d.logMessage(ctx, log, item)
    }
    return model.ItemStatusSent, "", nil
}

// logMessage records an outbound send in the lead's history. Failures are
// logged only; the send already happened.
func (d *Dispatcher) logMessage(ctx context.Context, log zerolog.Logger, item *model.SequenceItem) {
    if d.MessageLog == nil {
        return
    }
    msg := &model.Message{
        ID:             uuid.NewString(),
        ClientID:       item.ClientID,
        LeadID:         item.LeadID,
        CampaignID:     item.CampaignID,
        SequenceItemID: item.ID,
        Channel:        item.Channel,
        Direction:      "outbound",
        Subject:        item.Subject,
        Body:           item.Content,
        CreatedAt:      d.now(),
    }
    if err := d.MessageLog.Append(ctx, msg); err != nil {
        log.Warn().Err(err).Msg("message log append failed")
    }
}

// ListQueueByCampaign returns a campaign's items ordered by due time.
func (d *Dispatcher) ListQueueByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SequenceItem, error) {
    if limit <= 0 {
        limit = DefaultQueueLimit
    }
    if limit > MaxQueueLimit {
        limit = MaxQueueLimit
    }
    return d.Store.ListByCampaign(ctx, campaignID, limit)
}

// QueueStats counts a campaign's items per status.
func (d *Dispatcher) QueueStats(ctx context.Context, campaignID string) (map[string]int, error) {
    return d.Store.CountByStatus(ctx, campaignID)
}

func (d *Dispatcher) emailSender() channels.EmailSender {
    if d.Email == nil {
        return channels.UnconfiguredEmail{Name: "email"}
    }
    return d.Email
}

func (d *Dispatcher) timeout() time.Duration {
    if d.DispatchTimeout <= 0 {
        return DefaultDispatchTimeout
    }
    return d.DispatchTimeout
}

func (d *Dispatcher) now() time.Time {
    if d.Clock == nil {
        return clock.Real{}.Now()
    }
    return d.Clock.Now()
}
