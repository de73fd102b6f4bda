package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/model"
)

// MemoryStore keeps every table in process memory. It backs the server's
// in-memory mode and the package tests; it follows the same transition
// rules as the Postgres repositories.
type MemoryStore struct {
	LeaseTimeout time.Duration

	mu        sync.Mutex
	items     map[string]*model.SequenceItem
	order     []string
	leads     map[string]*model.Lead
	campaigns map[string]*model.Campaign
	messages  []*model.Message
	tokens    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*model.SequenceItem),
		leads:     make(map[string]*model.Lead),
		campaigns: make(map[string]*model.Campaign),
		tokens:    make(map[string]string),
	}
}

// ---- seeding and inspection ----

func (m *MemoryStore) PutLead(l *model.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *l
	m.leads[l.ID] = &c
}

func (m *MemoryStore) PutCampaign(c *model.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
}

func (m *MemoryStore) PutToken(clientID, provider, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[clientID+"/"+provider] = token
}

// Item returns a copy of the stored item, or nil.
func (m *MemoryStore) Item(id string) *model.SequenceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil
	}
	c := *item
	return &c
}

// Items returns copies of all items in insertion order.
func (m *MemoryStore) Items() []*model.SequenceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.SequenceItem, 0, len(m.order))
	for _, id := range m.order {
		c := *m.items[id]
		out = append(out, &c)
	}
	return out
}

func (m *MemoryStore) Messages() []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Message, len(m.messages))
	for i, msg := range m.messages {
		c := *msg
		out[i] = &c
	}
	return out
}

// ---- SequenceStore ----

func (m *MemoryStore) InsertItems(ctx context.Context, items []*model.SequenceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		if _, exists := m.items[item.ID]; exists {
			return fmt.Errorf("insert sequence item %s: duplicate id", item.ID)
		}
	}
	for _, item := range items {
		c := *item
		m.items[item.ID] = &c
		m.order = append(m.order, item.ID)
	}
	return nil
}

func (m *MemoryStore) FindPending(ctx context.Context, now time.Time) ([]*model.SequenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.SequenceItem{}
	for _, id := range m.order {
		item := m.items[id]
		if m.claimable(item, now) {
			c := *item
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (m *MemoryStore) Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !m.claimable(item, now) {
		return false, nil
	}
	claimedAt := now
	item.Status = model.ItemStatusClaimed
	item.ClaimedBy = workerID
	item.ClaimedAt = &claimedAt
	item.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) claimable(item *model.SequenceItem, now time.Time) bool {
	switch item.Status {
	case model.ItemStatusPending:
		return true
	case model.ItemStatusClaimed:
		return m.LeaseTimeout > 0 && item.ClaimedAt != nil && item.ClaimedAt.Before(now.Add(-m.LeaseTimeout))
	}
	return false
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id, workerID string, update model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != model.ItemStatusClaimed || item.ClaimedBy != workerID {
		return appErrors.ErrClaimLost
	}
	item.Status = update.Status
	item.SentAt = update.SentAt
	item.LastError = update.LastError
	item.UpdatedAt = update.UpdatedAt
	return nil
}

func (m *MemoryStore) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SequenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.SequenceItem{}
	for _, id := range m.order {
		if item := m.items[id]; item.CampaignID == campaignID {
			c := *item
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := newStats()
	for _, item := range m.items {
		if item.CampaignID != campaignID {
			continue
		}
		stats[string(item.Status)]++
		stats["total"]++
	}
	return stats, nil
}

// ---- LeadStore ----

func (m *MemoryStore) FindLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (m *MemoryStore) FindLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	var found *model.Lead
	for _, l := range m.leads {
		if strings.EqualFold(l.Email, email) && (found == nil || l.UpdatedAt.After(found.UpdatedAt)) {
			found = l
		}
	}
	if found == nil {
		return nil, nil
	}
	c := *found
	return &c, nil
}

func (m *MemoryStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return appErrors.NewLeadNotFound(id)
	}
	l.Status = status
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- CampaignStore, MessageLog, TokenStore ----

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Append(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

func (m *MemoryStore) AccessToken(ctx context.Context, clientID, provider string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[clientID+"/"+provider]
	if !ok {
		return "", fmt.Errorf("no %s token for client %s: %w", provider, clientID, appErrors.ErrNotConfigured)
	}
	return token, nil
}

var (
	_ SequenceStore = (*MemoryStore)(nil)
	_ LeadStore     = (*MemoryStore)(nil)
	_ CampaignStore = (*MemoryStore)(nil)
	_ MessageLog    = (*MemoryStore)(nil)
	_ TokenStore    = (*MemoryStore)(nil)
)
