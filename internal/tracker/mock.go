package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory tracker used for local runs and tests. It mirrors a
// real tracker's create/get contract without any network dependency.
type Mock struct {
	mu      sync.Mutex
	nextID  int
	tickets map[string]Ticket
}

// NewMock creates an in-memory tracker seeded with two demo tickets so
// GetTicket has something to find out of the box.
func NewMock() *Mock {
	m := &Mock{tickets: map[string]Ticket{}}
	m.seed()
	return m
}

func (m *Mock) CreateTicket(_ context.Context, _ CreateTicketInput) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	key := fmt.Sprintf("OPS-%04d", m.nextID)
	t := Ticket{
		Key:       key,
		ID:        key,
		Status:    "todo",
		CreatedAt: time.Now().UTC(),
	}
	m.tickets[key] = t
	return t, nil
}

func (m *Mock) GetTicket(_ context.Context, key string) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[key]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (m *Mock) seed() {
	now := time.Now().UTC()
	seed := []Ticket{
		{Key: "OPS-0001", ID: "OPS-0001", Status: "in_progress", CreatedAt: now.Add(-24 * time.Hour)},
		{Key: "OPS-0002", ID: "OPS-0002", Status: "todo", CreatedAt: now.Add(-6 * time.Hour)},
	}
	for _, t := range seed {
		m.tickets[t.Key] = t
	}
	m.nextID = len(seed)
}

var _ Provider = (*Mock)(nil)
