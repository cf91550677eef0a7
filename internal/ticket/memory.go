package ticket

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is the single-process ticket store.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	expiry  time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store whose tickets live for expiry
// (DefaultExpiry when zero or negative).
func NewMemoryStore(expiry time.Duration, opts ...MemoryOption) *MemoryStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	s := &MemoryStore{
		tickets: make(map[string]*Ticket),
		expiry:  expiry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Expiry() time.Duration { return s.expiry }

func (s *MemoryStore) Issue(_ context.Context, identity, workflowID string) (*Ticket, error) {
	if identity == "" || workflowID == "" {
		return nil, ErrInvalidRequest
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	t := &Ticket{
		Token:      token,
		Identity:   identity,
		WorkflowID: workflowID,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	s.tickets[token] = t
	s.mu.Unlock()

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Consume(_ context.Context, token, workflowID string) (*Ticket, error) {
	if token == "" {
		return nil, ErrInvalidTicket
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[token]
	if !ok || t.Used || t.Expired(s.now(), s.expiry) || t.WorkflowID != workflowID {
		return nil, ErrInvalidTicket
	}
	t.Used = true

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Sweep(_ context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, t := range s.tickets {
		if t.Used || t.Expired(now, s.expiry) {
			delete(s.tickets, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of tickets currently held, valid or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
