package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/domain/outbox"
	desk_errors "relaydesk/pkg/errors"

	"github.com/google/uuid"
)

// MemoryConversationRepository keeps conversations in process memory. A
// single mutex serialises writers, which makes FindOrCreate atomic.
type MemoryConversationRepository struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*conversation.Conversation
	byContact map[string]uuid.UUID
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		byID:      make(map[uuid.UUID]*conversation.Conversation),
		byContact: make(map[string]uuid.UUID),
	}
}

func cloneConversation(c *conversation.Conversation) conversation.Conversation {
	out := *c
	if c.AssignedTo != nil {
		assignee := *c.AssignedTo
		out.AssignedTo = &assignee
	}
	out.Tags = append(conversation.Tags{}, c.Tags...)
	return out
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return conversation.Conversation{}, desk_errors.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (r *MemoryConversationRepository) FindByContact(ctx context.Context, contact string) (conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byContact[contact]
	if !ok {
		return conversation.Conversation{}, desk_errors.ErrNotFound
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *MemoryConversationRepository) FindOrCreate(ctx context.Context, c conversation.Conversation) (conversation.Conversation, bool, error) {
	if c.CustomerContact == "" {
		return conversation.Conversation{}, false, fmt.Errorf("%w: customer contact is required", desk_errors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byContact[c.CustomerContact]; ok {
		return cloneConversation(r.byID[id]), false, nil
	}

	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = conversation.StatusOpen
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := cloneConversation(&c)
	r.byID[c.ID] = &stored
	r.byContact[c.CustomerContact] = c.ID
	return cloneConversation(&stored), true, nil
}

func (r *MemoryConversationRepository) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) (conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return conversation.Conversation{}, desk_errors.ErrNotFound
	}
	c.Touch(at)
	return cloneConversation(c), nil
}

func (r *MemoryConversationRepository) UpdateFields(ctx context.Context, id uuid.UUID, patch conversation.Patch) (conversation.Conversation, error) {
	if err := patch.Validate(); err != nil {
		return conversation.Conversation{}, fmt.Errorf("%w: %v", desk_errors.ErrInvalidInput, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return conversation.Conversation{}, desk_errors.ErrNotFound
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != c.Version {
		return conversation.Conversation{}, desk_errors.ErrConflict
	}
	patch.Apply(c, time.Now().UTC())
	return cloneConversation(c), nil
}

func (r *MemoryConversationRepository) List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, int64, error) {
	filter = filter.Normalize()
	r.mu.RLock()
	matched := make([]conversation.Conversation, 0, len(r.byID))
	for _, c := range r.byID {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && (c.AssignedTo == nil || *c.AssignedTo != filter.AssignedTo) {
			continue
		}
		matched = append(matched, cloneConversation(c))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.Limit
	if start >= len(matched) {
		return []conversation.Conversation{}, total, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// MemoryMessageRepository keeps messages in insertion order.
type MemoryMessageRepository struct {
	mu         sync.RWMutex
	messages   []*message.Message
	byID       map[uuid.UUID]*message.Message
	byProvider map[string]*message.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byID:       make(map[uuid.UUID]*message.Message),
		byProvider: make(map[string]*message.Message),
	}
}

func cloneMessage(m *message.Message) message.Message {
	out := *m
	if m.ProviderMessageID != nil {
		providerID := *m.ProviderMessageID
		out.ProviderMessageID = &providerID
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		out.Metadata = &meta
	}
	return out
}

func (r *MemoryMessageRepository) Append(ctx context.Context, m *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ProviderMessageID != nil && *m.ProviderMessageID != "" {
		if _, exists := r.byProvider[*m.ProviderMessageID]; exists {
			return desk_errors.ErrAlreadyExists
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, exists := r.byID[m.ID]; exists {
		return desk_errors.ErrAlreadyExists
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt

	stored := cloneMessage(m)
	r.messages = append(r.messages, &stored)
	r.byID[stored.ID] = &stored
	if stored.ProviderMessageID != nil && *stored.ProviderMessageID != "" {
		r.byProvider[*stored.ProviderMessageID] = &stored
	}
	return nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return message.Message{}, desk_errors.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *MemoryMessageRepository) UpdateStatusByProviderID(ctx context.Context, providerID string, status message.Status) (bool, error) {
	if providerID == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byProvider[providerID]
	if !ok {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]message.Message, 0)
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		out = append(out, cloneMessage(m))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MemoryOutboxRepository is used when no database is configured.
type MemoryOutboxRepository struct {
	mu     sync.Mutex
	events []*outbox.Event
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{}
}

func (r *MemoryOutboxRepository) Create(ctx context.Context, event *outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt
	stored := *event
	r.events = append(r.events, &stored)
	return nil
}

func (r *MemoryOutboxRepository) GetPending(ctx context.Context, limit int) ([]outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []outbox.Event
	for _, e := range r.events {
		if e.Status != outbox.StatusPending {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryOutboxRepository) update(id uuid.UUID, fn func(e *outbox.Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			fn(e)
			e.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return desk_errors.ErrNotFound
}

func (r *MemoryOutboxRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(e *outbox.Event) { e.Status = outbox.StatusProcessing })
}

func (r *MemoryOutboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(e *outbox.Event) {
		now := time.Now().UTC()
		e.Status = outbox.StatusCompleted
		e.ProcessedAt = &now
	})
}

func (r *MemoryOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.update(id, func(e *outbox.Event) {
		e.Status = outbox.StatusFailed
		e.Error = errorMsg
	})
}

func (r *MemoryOutboxRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(e *outbox.Event) {
		e.RetryCount++
		e.Status = outbox.StatusPending
	})
}

// Events returns a snapshot of every recorded event.
func (r *MemoryOutboxRepository) Events() []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]outbox.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}
