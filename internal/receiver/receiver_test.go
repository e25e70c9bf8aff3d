package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/webhook"
)

func signedRequest(t *testing.T, secret string, p *model.Payload) *http.Request {
	t.Helper()

	body, err := json.Marshal(p)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(secret, body))
	req.Header.Set(webhook.EventIDHeader, p.EventID)

	return req
}

func TestHandlerDedupes(t *testing.T) {
	var handled []string
	h := NewHandler("s3cret", NewMemoryDeduper(), func(_ context.Context, p *model.Payload) error {
		handled = append(handled, p.EventID)
		return nil
	})

	p := model.NewTestPayload("evt-1", "cal-1", "hello", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "s3cret", p))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "s3cret", p))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"evt-1"}, handled)
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	h := NewHandler("s3cret", NewMemoryDeduper(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "wrong", model.NewTestPayload("evt-1", "cal-1", "", time.Now())))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRetriesAfterFailure(t *testing.T) {
	calls := 0
	h := NewHandler("", NewMemoryDeduper(), func(context.Context, *model.Payload) error {
		calls++
		if calls == 1 {
			return errors.New("downstream busy")
		}

		return nil
	})

	p := model.NewTestPayload("evt-1", "cal-1", "", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "", p))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "", p))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestHandlerRejectsMalformed(t *testing.T) {
	h := NewHandler("", NewMemoryDeduper(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
