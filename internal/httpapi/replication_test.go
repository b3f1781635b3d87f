package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/ambar"
	"github.com/aneshas/eventlog/inmemory"
	"github.com/aneshas/eventlog/internal/httpapi"
)

func ambarPayload(t *testing.T, id string, eventNumber int) string {
	t.Helper()

	body, err := json.Marshal(httpapi.Envelope{Type: "OrderPlaced", Data: json.RawMessage(`{"order":"1"}`)})
	require.NoError(t, err)

	data, err := json.Marshal(ambar.Req{Payload: ambar.Payload{
		Sequence:    uint64(eventNumber),
		EventID:     id,
		StreamID:    "order-1",
		EventNumber: eventNumber,
		BodyType:    "Envelope",
		Body:        string(body),
		CommittedAt: "2024-10-12T20:07:22.436271+00",
	}})
	require.NoError(t, err)

	return string(data)
}

func (s *server) push(payload string, authenticated bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ambar/replicate", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	if authenticated {
		req.SetBasicAuth("user", "pass")
	}

	rec := httptest.NewRecorder()

	s.e.ServeHTTP(rec, req)

	return rec
}

func TestShould_Replicate_Pushed_Events(t *testing.T) {
	s := newServer(t)

	rec := s.push(ambarPayload(t, "E1", 1), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ambar.SuccessResp, rec.Body.String())

	// redelivery
	rec = s.push(ambarPayload(t, "E1", 1), true)
	assert.Equal(t, ambar.SuccessResp, rec.Body.String())

	require.Equal(t, ambar.SuccessResp, s.push(ambarPayload(t, "E2", 2), true).Body.String())

	events, err := s.store.ReadStreamForwards(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "E1", events[0].ID)
	assert.Equal(t, "E2", events[1].ID)
	assert.Equal(t, httpapi.Envelope{Type: "OrderPlaced", Data: json.RawMessage(`{"order":"1"}`)}, events[1].Body)
}

func TestShould_Ask_For_Retry_On_Gap(t *testing.T) {
	s := newServer(t)

	rec := s.push(ambarPayload(t, "E3", 3), true)

	assert.Equal(t, ambar.RetryResp, rec.Body.String())
}

func TestShould_Require_Credentials_For_Replication(t *testing.T) {
	s := newServer(t)

	rec := s.push(ambarPayload(t, "E1", 1), false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type failingStore struct {
	httpapi.Store
	err error
}

func (f failingStore) AppendToStream(context.Context, string, int, ...eventlog.EventData) error {
	return f.err
}

func TestShould_Skip_Invalid_Events_And_Surface_Storage_Failures(t *testing.T) {
	evt := eventlog.StorageEvent{EventData: eventlog.EventData{ID: "E1"}, StreamID: "A", EventNumber: 1}

	err := httpapi.Replicate(failingStore{err: eventlog.ErrInvalidArgument})(context.Background(), []eventlog.StorageEvent{evt}, "E1")
	assert.ErrorIs(t, err, ambar.ErrKeepItGoing)

	storageErr := errors.New("disk full")

	err = httpapi.Replicate(failingStore{err: storageErr})(context.Background(), []eventlog.StorageEvent{evt}, "E1")
	assert.ErrorIs(t, err, storageErr)

	store, storeErr := eventlog.New(inmemory.New())
	require.NoError(t, storeErr)

	assert.NoError(t, httpapi.Replicate(store)(context.Background(), []eventlog.StorageEvent{evt}, "E1"))
}
