package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository/memory"
	"github.com/jnst/booking-outbox/internal/retry"
	"github.com/jnst/booking-outbox/internal/webhook"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixture struct {
	store    *memory.Store
	clock    *clock.MockClock
	bookings BookingService
	outbox   OutboxService
	catalog  CatalogService
	monitor  MonitorService
}

func defaultDispatchOptions() DispatchOptions {
	return DispatchOptions{
		BatchSize:         50,
		Workers:           4,
		Lease:             time.Minute,
		OrderedPerBooking: true,
		Retry: retry.Policy{
			Base:        5 * time.Second,
			Max:         time.Minute,
			MaxAttempts: 4,
			Jitter:      func() float64 { return 0 },
		},
		ResetAttemptsOnRetry: true,
	}
}

func newFixture(t *testing.T, bookingOpts BookingOptions, dispatchOpts DispatchOptions) *fixture {
	t.Helper()

	store := memory.NewStore()
	clk := clock.NewMockClock(at(8, 0))

	f := &fixture{
		store:   store,
		clock:   clk,
		catalog: NewCatalogServiceImpl(store.Services(), store.Endpoints(), clk),
		bookings: NewBookingServiceImpl(
			store.Bookings(), store.Services(), store.Outbox(), store.TransactionManager(), clk, nil, bookingOpts,
		),
		outbox: NewOutboxServiceImpl(
			store.Outbox(), store.Endpoints(), webhook.NewClient(2*time.Second), clk, dispatchOpts,
		),
		monitor: NewMonitorServiceImpl(store.Outbox(), store.Endpoints(), clk, MonitorOptions{Window: 24 * time.Hour}),
	}

	ctx := context.Background()

	_, err := f.catalog.CreateService(ctx, &model.ServiceDefinition{ID: "consult", Name: "Consultation", Duration: time.Hour})
	require.NoError(t, err)

	_, err = f.catalog.CreateService(ctx, &model.ServiceDefinition{
		ID: "colour", Name: "Colouring", Duration: 2 * time.Hour, BufferAfter: 15 * time.Minute,
	})
	require.NoError(t, err)

	return f
}

func (f *fixture) submit(t *testing.T, serviceID string, start, end time.Time) (*model.BookingResult, error) {
	t.Helper()

	return f.bookings.SubmitBooking(context.Background(), &model.BookingCandidate{
		CalendarID:   "cal-1",
		ServiceID:    serviceID,
		Start:        start,
		End:          end,
		CustomerRef:  "cust-1",
		CustomerName: "Ada",
	})
}

func (f *fixture) events(t *testing.T) []*model.WebhookEvent {
	t.Helper()

	events, err := f.store.Outbox().ListEvents(context.Background(), model.EventFilter{Limit: 1000})
	require.NoError(t, err)

	return events
}

func (f *fixture) event(t *testing.T, id string) *model.WebhookEvent {
	t.Helper()

	event, err := f.store.Outbox().GetByID(context.Background(), id)
	require.NoError(t, err)

	return event
}

func (f *fixture) addEndpoint(t *testing.T, id, url string) {
	t.Helper()

	_, err := f.catalog.UpsertEndpoint(context.Background(), &model.WebhookEndpoint{
		ID: id, CalendarID: "cal-1", URL: url, Secret: "s3cret", IsActive: true,
	})
	require.NoError(t, err)
}

// receiver is a webhook endpoint that fails the first failFirst requests.
type receiver struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	eventIDs  []string
	bodies    [][]byte
	sigs      []string
	server    *httptest.Server
}

func newReceiver(t *testing.T, failFirst int) *receiver {
	t.Helper()

	r := &receiver{failFirst: failFirst}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)

		r.mu.Lock()
		defer r.mu.Unlock()

		r.calls++
		r.eventIDs = append(r.eventIDs, req.Header.Get(webhook.EventIDHeader))
		r.bodies = append(r.bodies, body)
		r.sigs = append(r.sigs, req.Header.Get(webhook.SignatureHeader))

		if r.calls <= r.failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.server.Close)

	return r
}

func (r *receiver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

func (r *receiver) EventIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.eventIDs...)
}

func (r *receiver) LastPayload(t *testing.T) model.Payload {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.NotEmpty(t, r.bodies)

	var p model.Payload
	require.NoError(t, json.Unmarshal(r.bodies[len(r.bodies)-1], &p))

	return p
}
