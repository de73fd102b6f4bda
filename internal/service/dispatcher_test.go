package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictalent/ai-agent-backend/internal/clock"
	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/model"
	"github.com/magictalent/ai-agent-backend/internal/repository"
	"github.com/magictalent/ai-agent-backend/internal/service"
)

type harness struct {
	store    *repository.MemoryStore
	clock    *clock.Fake
	email    *MockEmail
	sms      *MockText
	whatsapp *MockText
	calendar *MockCalendar
	d        *service.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		clock:    clock.NewFake(t0),
		email:    &MockEmail{},
		sms:      &MockText{},
		whatsapp: &MockText{},
		calendar: &MockCalendar{},
	}
	h.store.LeaseTimeout = 15 * time.Minute
	h.store.PutLead(&model.Lead{ID: "lead1", ClientID: "c1", Email: "ada@example.com", Phone: "+15551234567", FirstName: "Ada", Status: model.LeadStatusContacted})
	h.d = &service.Dispatcher{
		Store:      h.store,
		Leads:      h.store,
		MessageLog: h.store,
		Email:      h.email,
		SMS:        h.sms,
		WhatsApp:   h.whatsapp,
		Calendar:   h.calendar,
		Clock:      h.clock,
		WorkerID:   "w1",
	}
	return h
}

func (h *harness) add(t *testing.T, id, leadID string, channel model.Channel, kind model.StepType, due time.Time) {
	t.Helper()
	require.NoError(t, h.store.InsertItems(context.Background(), []*model.SequenceItem{{
		ID:         id,
		CampaignID: "camp1",
		ClientID:   "c1",
		LeadID:     leadID,
		Channel:    channel,
		Type:       kind,
		Step:       1,
		Subject:    "Subject " + id,
		Content:    "Body " + id,
		DueAt:      due,
		Status:     model.ItemStatusPending,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}}))
}

func outcomeFor(res *service.TickResult, id string) (service.ItemOutcome, bool) {
	for _, o := range res.Results {
		if o.ID == id {
			return o, true
		}
	}
	return service.ItemOutcome{}, false
}

func TestTickSendsEachItemAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)

	first := h.d.Tick(context.Background(), 10)
	second := h.d.Tick(context.Background(), 10)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, second.Processed)
	assert.Empty(t, second.Results)
	assert.Equal(t, 1, h.email.Calls())

	item := h.store.Item("i1")
	assert.Equal(t, model.ItemStatusSent, item.Status)
	require.NotNil(t, item.SentAt)
	assert.True(t, item.SentAt.Equal(t0))
}

func TestTickSkipsItemsNotYetDue(t *testing.T) {
	h := newHarness(t)
	h.add(t, "future", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Hour))

	res := h.d.Tick(context.Background(), 10)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, h.email.Calls())
	assert.Equal(t, model.ItemStatusPending, h.store.Item("future").Status)
}

func TestTickCancelsWhenLeadStoppedOutreach(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(&model.Lead{ID: "gone", Email: "gone@example.com", Phone: "+1555", Status: model.LeadStatusUnsubscribed})
	h.add(t, "e", "gone", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "s", "gone", model.ChannelSMS, model.StepTypeEmail, t0)
	h.add(t, "b", "gone", model.ChannelEmail, model.StepTypeBook, t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 3, res.Processed)
	for _, id := range []string{"e", "s", "b"} {
		o, ok := outcomeFor(res, id)
		require.True(t, ok)
		assert.Equal(t, "cancelled", o.Status)
		assert.Equal(t, model.ItemStatusCancelled, h.store.Item(id).Status)
	}
	assert.Equal(t, 0, h.email.Calls())
	assert.Equal(t, 0, h.sms.Calls())
	assert.Empty(t, h.calendar.Events)
}

func TestTickMissingEmailFailsOnlyThatItem(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(&model.Lead{ID: "noemail", Status: model.LeadStatusNew})
	h.add(t, "bad", "noemail", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "good", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Second))
	h.clock.Advance(time.Minute)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 2, res.Processed)
	bad := h.store.Item("bad")
	assert.Equal(t, model.ItemStatusFailed, bad.Status)
	assert.Equal(t, appErrors.ReasonMissingEmail, bad.LastError)
	assert.Equal(t, model.ItemStatusSent, h.store.Item("good").Status)
	require.Len(t, h.email.Sent, 1)
	assert.Equal(t, "ada@example.com", h.email.Sent[0].To)
}

func TestTickUnknownLeadIsMissingContact(t *testing.T) {
	h := newHarness(t)
	h.add(t, "orphan", "no-such-lead", model.ChannelSMS, model.StepTypeEmail, t0)

	res := h.d.Tick(context.Background(), 10)

	o, ok := outcomeFor(res, "orphan")
	require.True(t, ok)
	assert.Equal(t, "failed", o.Status)
	assert.Equal(t, appErrors.ReasonMissingPhone, o.Error)
}

func TestTickIsolatesFailuresWithinBatch(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(&model.Lead{ID: "boom", Email: "boom@example.com"})
	h.store.PutLead(&model.Lead{ID: "flaky", Email: "flaky@example.com"})
	h.email.Fail = func(to string) error {
		switch to {
		case "boom@example.com":
			panic("smtp client exploded")
		case "flaky@example.com":
			return errors.New("421 service not available")
		}
		return nil
	}
	h.add(t, "first", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "second", "boom", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Second))
	h.add(t, "third", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(2*time.Second))
	h.add(t, "fourth", "flaky", model.ChannelEmail, model.StepTypeEmail, t0.Add(3*time.Second))
	h.clock.Advance(time.Minute)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 4, res.Processed)
	require.Len(t, res.Results, 4)

	first, _ := outcomeFor(res, "first")
	second, _ := outcomeFor(res, "second")
	third, _ := outcomeFor(res, "third")
	fourth, _ := outcomeFor(res, "fourth")

	assert.Equal(t, "sent", first.Status)
	assert.Equal(t, service.OutcomeError, second.Status)
	assert.Contains(t, second.Error, "smtp client exploded")
	assert.Equal(t, "sent", third.Status)
	assert.Equal(t, "failed", fourth.Status)
	assert.Equal(t, "421 service not available", fourth.Error)

	assert.Equal(t, model.ItemStatusFailed, h.store.Item("second").Status, "panicking item is marked failed")
	assert.Equal(t, model.ItemStatusFailed, h.store.Item("fourth").Status)
	assert.Equal(t, "421 service not available", h.store.Item("fourth").LastError)
}

func TestTickTakesEarliestDueFirst(t *testing.T) {
	h := newHarness(t)
	h.add(t, "late", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(2*time.Minute))
	h.add(t, "middle", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Minute))
	h.add(t, "early", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.clock.Advance(10 * time.Minute)

	res := h.d.Tick(context.Background(), 2)

	require.Equal(t, 2, res.Processed)
	assert.Equal(t, "early", res.Results[0].ID)
	assert.Equal(t, "middle", res.Results[1].ID)
	assert.Equal(t, model.ItemStatusPending, h.store.Item("late").Status)

	next := h.d.Tick(context.Background(), 2)
	require.Equal(t, 1, next.Processed)
	assert.Equal(t, "late", next.Results[0].ID)
}

func TestTickBooksMeeting(t *testing.T) {
	h := newHarness(t)
	h.add(t, "book", "lead1", model.ChannelSMS, model.StepTypeBook, t0)
	h.clock.Advance(7 * 24 * time.Hour)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, "sent", res.Results[0].Status)
	require.Len(t, h.calendar.Events, 1)
	ev := h.calendar.Events[0]
	assert.True(t, ev.StartTime.Equal(h.clock.Now().Add(48*time.Hour)), "start is relative to dispatch, not due time")
	assert.Equal(t, []string{"ada@example.com"}, ev.Attendees)
	assert.Equal(t, "Subject book", ev.Summary)
	assert.Equal(t, 0, h.sms.Calls(), "booking ignores the channel")

	lead, err := h.store.FindLeadByID(context.Background(), "lead1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusMeetingScheduled, lead.Status)
}

func TestTickBookingFailureLeavesLead(t *testing.T) {
	h := newHarness(t)
	h.calendar.Err = errors.New("calendar token: token expired")
	h.add(t, "book", "lead1", model.ChannelEmail, model.StepTypeBook, t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, "failed", res.Results[0].Status)
	assert.Equal(t, "calendar token: token expired", h.store.Item("book").LastError)

	lead, err := h.store.FindLeadByID(context.Background(), "lead1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, lead.Status)
}

func TestTickTextChannels(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(&model.Lead{ID: "nophone", Email: "x@example.com"})
	h.add(t, "sms", "lead1", model.ChannelSMS, model.StepTypeEmail, t0)
	h.add(t, "wa", "lead1", model.ChannelWhatsApp, model.StepTypeEmail, t0)
	h.add(t, "nophone", "nophone", model.ChannelWhatsApp, model.StepTypeEmail, t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 3, res.Processed)
	require.Len(t, h.sms.Sent, 1)
	assert.Equal(t, sentText{To: "+15551234567", Body: "Body sms"}, h.sms.Sent[0])
	require.Len(t, h.whatsapp.Sent, 1)
	assert.Equal(t, "+15551234567", h.whatsapp.Sent[0].To)

	np := h.store.Item("nophone")
	assert.Equal(t, model.ItemStatusFailed, np.Status)
	assert.Equal(t, appErrors.ReasonMissingPhone, np.LastError)

	assert.Empty(t, h.store.Messages(), "text sends are not logged by default")
}

func TestTickMessageLog(t *testing.T) {
	h := newHarness(t)
	h.add(t, "mail", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "sms", "lead1", model.ChannelSMS, model.StepTypeEmail, t0)

	h.d.Tick(context.Background(), 10)

	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mail", msgs[0].SequenceItemID)
	assert.Equal(t, "outbound", msgs[0].Direction)
	assert.Equal(t, model.ChannelEmail, msgs[0].Channel)
	assert.Equal(t, "Subject mail", msgs[0].Subject)

	h2 := newHarness(t)
	h2.d.LogAllChannels = true
	h2.add(t, "sms", "lead1", model.ChannelSMS, model.StepTypeEmail, t0)
	h2.d.Tick(context.Background(), 10)
	require.Len(t, h2.store.Messages(), 1)
	assert.Equal(t, model.ChannelSMS, h2.store.Messages()[0].Channel)
}

func TestTickUnsupportedChannel(t *testing.T) {
	h := newHarness(t)
	h.add(t, "fax", "lead1", model.Channel("fax"), model.StepTypeEmail, t0)
	h.add(t, "odd", "lead1", model.ChannelEmail, model.StepType("survey"), t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 2, res.Processed)
	for _, id := range []string{"fax", "odd"} {
		item := h.store.Item(id)
		assert.Equal(t, model.ItemStatusFailed, item.Status)
		assert.Equal(t, appErrors.ReasonUnsupportedChannel, item.LastError)
	}
	assert.Equal(t, 0, h.email.Calls())
}

func TestTickUnconfiguredSenderFailsItem(t *testing.T) {
	h := newHarness(t)
	h.d.SMS = nil
	h.add(t, "sms", "lead1", model.ChannelSMS, model.StepTypeEmail, t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, "failed", res.Results[0].Status)
	assert.Contains(t, h.store.Item("sms").LastError, appErrors.ErrNotConfigured.Error())
}

func TestTickSkipsItemsClaimedElsewhere(t *testing.T) {
	h := newHarness(t)
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)

	ok, err := h.store.Claim(context.Background(), "i1", "other-worker", t0)
	require.NoError(t, err)
	require.True(t, ok)

	res := h.d.Tick(context.Background(), 10)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, h.email.Calls())

	// Once the other worker's lease runs out the item is picked up again.
	h.clock.Advance(16 * time.Minute)
	res = h.d.Tick(context.Background(), 10)
	require.Equal(t, 1, res.Processed)
	assert.Equal(t, "sent", res.Results[0].Status)
	assert.Equal(t, 1, h.email.Calls())
}

func TestTickAppliesDispatchTimeout(t *testing.T) {
	h := newHarness(t)
	h.sms.Block = true
	h.d.DispatchTimeout = 20 * time.Millisecond
	h.add(t, "slow", "lead1", model.ChannelSMS, model.StepTypeEmail, t0)
	h.add(t, "fast", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Second))
	h.clock.Advance(time.Minute)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 2, res.Processed)
	slow := h.store.Item("slow")
	assert.Equal(t, model.ItemStatusFailed, slow.Status)
	assert.Contains(t, slow.LastError, context.DeadlineExceeded.Error())
	assert.Equal(t, model.ItemStatusSent, h.store.Item("fast").Status)
}

func TestTickLeadLookupErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.d.Leads = FailingLeads{}
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, service.OutcomeError, res.Results[0].Status)
	assert.Equal(t, model.ItemStatusFailed, h.store.Item("i1").Status)
	assert.Equal(t, 0, h.email.Calls())
}

func TestListQueueByCampaign(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 510; i++ {
		h.add(t, fmt.Sprintf("item-%03d", i), "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Duration(510-i)*time.Minute))
	}

	items, err := h.d.ListQueueByCampaign(context.Background(), "camp1", 0)
	require.NoError(t, err)
	assert.Len(t, items, service.DefaultQueueLimit)
	assert.Equal(t, "item-509", items[0].ID, "earliest due first")

	items, err = h.d.ListQueueByCampaign(context.Background(), "camp1", 10000)
	require.NoError(t, err)
	assert.Len(t, items, service.MaxQueueLimit)

	items, err = h.d.ListQueueByCampaign(context.Background(), "other", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueStats(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(&model.Lead{ID: "noemail"})
	h.add(t, "a", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "b", "noemail", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "c", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Hour))
	h.d.Tick(context.Background(), 10)

	stats, err := h.d.QueueStats(context.Background(), "camp1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 1, stats["sent"])
	assert.Equal(t, 1, stats["failed"])
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 0, stats["cancelled"])
}

func TestTickWithCancelledCallerLeavesItemsPending(t *testing.T) {
	h := newHarness(t)
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "i2", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.d.Tick(ctx, 10)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, h.email.Calls())
	assert.Equal(t, model.ItemStatusPending, h.store.Item("i1").Status)
	assert.Equal(t, model.ItemStatusPending, h.store.Item("i2").Status)

	res = h.d.Tick(context.Background(), 10)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, h.email.Calls())
}

// cancelOnSend cancels the caller's context from inside the first send and
// records what the send itself observed.
type cancelOnSend struct {
	cancel context.CancelFunc
	seen   []error
}

func (c *cancelOnSend) Send(ctx context.Context, to, subject, body string) error {
	c.cancel()
	c.seen = append(c.seen, ctx.Err())
	return ctx.Err()
}

func TestTickFinishesClaimedItemWhenCallerGoesAway(t *testing.T) {
	h := newHarness(t)
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)
	h.add(t, "i2", "lead1", model.ChannelEmail, model.StepTypeEmail, t0.Add(time.Second))
	h.clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	sender := &cancelOnSend{cancel: cancel}
	h.d.Email = sender

	res := h.d.Tick(ctx, 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, []error{nil}, sender.seen)
	assert.Equal(t, model.ItemStatusSent, h.store.Item("i1").Status)
	assert.Equal(t, model.ItemStatusPending, h.store.Item("i2").Status)
}

func TestTickDoesNotOverwriteReclaimedItem(t *testing.T) {
	h := newHarness(t)
	h.add(t, "i1", "lead1", model.ChannelEmail, model.StepTypeEmail, t0)

	// Another worker takes the item over while this one is still sending.
	h.email.Fail = func(string) error {
		h.clock.Advance(16 * time.Minute)
		ok, err := h.store.Claim(context.Background(), "i1", "w2", h.clock.Now())
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}

	res := h.d.Tick(context.Background(), 10)

	require.Equal(t, 1, res.Processed)
	assert.Equal(t, service.OutcomeError, res.Results[0].Status)
	assert.Equal(t, appErrors.ErrClaimLost.Error(), res.Results[0].Error)
	item := h.store.Item("i1")
	assert.Equal(t, model.ItemStatusClaimed, item.Status)
	assert.Equal(t, "w2", item.ClaimedBy)
}
