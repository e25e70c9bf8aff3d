package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/booking-outbox/internal/model"
)

func TestCreateService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	_, err := f.catalog.CreateService(ctx, &model.ServiceDefinition{ID: "cut", Name: "Cut", Duration: 30 * time.Minute})
	require.NoError(t, err)

	_, err = f.catalog.CreateService(ctx, &model.ServiceDefinition{ID: "cut", Name: "Other", Duration: time.Hour})
	assert.ErrorIs(t, err, model.ErrServiceExists)

	got, err := f.catalog.GetService(ctx, "cut")
	require.NoError(t, err)
	assert.Equal(t, "Cut", got.Name)

	_, err = f.catalog.CreateService(ctx, &model.ServiceDefinition{ID: "bad", Duration: 0})
	assert.ErrorIs(t, err, model.ErrInvalidService)

	_, err = f.catalog.CreateService(ctx, &model.ServiceDefinition{ID: "neg", Duration: time.Hour, BufferBefore: -time.Minute})
	assert.ErrorIs(t, err, model.ErrInvalidService)

	_, err = f.catalog.GetService(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrServiceNotFound)
}

func TestUpsertEndpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	ep := &model.WebhookEndpoint{ID: "ep-1", CalendarID: "cal-1", URL: "https://hooks.example.com/a", Secret: "s", IsActive: true}
	saved, err := f.catalog.UpsertEndpoint(ctx, ep)
	require.NoError(t, err)
	createdAt := saved.CreatedAt

	f.clock.Advance(time.Hour)

	_, err = f.catalog.UpsertEndpoint(ctx, &model.WebhookEndpoint{
		ID: "ep-1", CalendarID: "cal-1", URL: "https://hooks.example.com/b", Secret: "s", IsActive: false,
	})
	require.NoError(t, err)

	endpoints, err := f.catalog.ListEndpoints(ctx, "cal-1")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "https://hooks.example.com/b", endpoints[0].URL)
	assert.False(t, endpoints[0].IsActive)
	assert.Equal(t, createdAt, endpoints[0].CreatedAt)
	assert.Equal(t, f.clock.Now(), endpoints[0].UpdatedAt)

	_, err = f.catalog.UpsertEndpoint(ctx, &model.WebhookEndpoint{ID: "ep-2", CalendarID: "cal-1", URL: "ftp://x", Secret: "s"})
	assert.ErrorIs(t, err, model.ErrInvalidEndpoint)

	_, err = f.catalog.ListEndpoints(ctx, "")
	assert.ErrorIs(t, err, model.ErrCalendarRequired)
}
