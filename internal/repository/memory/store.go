// Package memory provides in-process repository implementations.
// A Store serializes every transaction behind one lock and rolls back by restoring a snapshot,
// which gives the same all-or-nothing behavior as the PostgreSQL implementations.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
)

type txKey struct{ store *Store }

type state struct {
	services  map[string]model.ServiceDefinition
	bookings  map[string]model.Booking
	endpoints map[string]model.WebhookEndpoint
	events    []model.WebhookEvent
	eventIdx  map[string]int
	attempts  []model.DeliveryAttempt
}

func (s *state) clone() *state {
	return &state{
		services:  maps.Clone(s.services),
		bookings:  maps.Clone(s.bookings),
		endpoints: maps.Clone(s.endpoints),
		events:    append([]model.WebhookEvent(nil), s.events...),
		eventIdx:  maps.Clone(s.eventIdx),
		attempts:  append([]model.DeliveryAttempt(nil), s.attempts...),
	}
}

// Store holds every table in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: &state{
		services:  make(map[string]model.ServiceDefinition),
		bookings:  make(map[string]model.Booking),
		endpoints: make(map[string]model.WebhookEndpoint),
		eventIdx:  make(map[string]int),
	}}
}

// Bookings returns the booking repository view.
func (s *Store) Bookings() repository.BookingRepository { return &bookingRepo{s} }

// Services returns the service definition repository view.
func (s *Store) Services() repository.ServiceRepository { return &serviceRepo{s} }

// Endpoints returns the webhook endpoint repository view.
func (s *Store) Endpoints() repository.EndpointRepository { return &endpointRepo{s} }

// Outbox returns the outbox repository view. It also satisfies repository.StatusReader.
func (s *Store) Outbox() *OutboxRepo { return &OutboxRepo{s} }

// TransactionManager returns a manager whose transactions span every view of this store.
func (s *Store) TransactionManager() repository.TransactionManager { return s }

// WithTransaction runs fn while holding the store lock and restores the snapshot if fn fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTransaction(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()

	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.st = snapshot
		return err
	}

	return nil
}

func (s *Store) inTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

// lock acquires the store lock unless ctx already runs inside one of its transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTransaction(ctx) {
		return func() {}
	}

	s.mu.Lock()

	return s.mu.Unlock
}
