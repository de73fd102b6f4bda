package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/magictalent/ai-agent-backend/internal/channels"
	"github.com/magictalent/ai-agent-backend/internal/model"
	"github.com/magictalent/ai-agent-backend/internal/repository"
)

type sentEmail struct {
	To, Subject, Body string
}

// MockEmail records sends; Fail decides per recipient whether to error.
type MockEmail struct {
	mu    sync.Mutex
	Sent  []sentEmail
	Fail  func(to string) error
	calls int
}

func (m *MockEmail) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	m.calls++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		if err := fail(to); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmail) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type sentText struct {
	To, Body string
}

type MockText struct {
	mu    sync.Mutex
	Sent  []sentText
	Block bool
}

func (m *MockText) Send(ctx context.Context, to, body string) error {
	if m.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentText{To: to, Body: body})
	return nil
}

func (m *MockText) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

type MockCalendar struct {
	mu     sync.Mutex
	Events []channels.Event
	Err    error
}

func (m *MockCalendar) CreateEvent(ctx context.Context, clientID string, ev channels.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Events = append(m.Events, ev)
	return "evt-1", nil
}

// FailingLeads wraps a LeadStore and fails every lookup.
type FailingLeads struct {
	repository.LeadStore
}

var errLeadStore = errors.New("lead store unavailable")

func (FailingLeads) FindLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	return nil, errLeadStore
}

func (FailingLeads) FindLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	return nil, errLeadStore
}

// FailingInsert rejects every insert.
type FailingInsert struct {
	repository.SequenceStore
}

func (FailingInsert) InsertItems(ctx context.Context, items []*model.SequenceItem) error {
	return errors.New("insert failed")
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
