package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/internal/config"
	"github.com/aneshas/eventlog/internal/httpapi"
	"github.com/aneshas/eventlog/internal/server"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()

	require.NoError(t, l.Close())

	return addr
}

func memoryConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.HTTPAddr = freeAddr(t)
	cfg.Storage.PollInterval = 10 * time.Millisecond

	return cfg
}

func TestShould_Reject_Invalid_Config(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Engine = "unknown"

	_, err := server.New(cfg, nil)

	assert.Error(t, err)
}

func TestShould_Serve_Stream_Index(t *testing.T) {
	srv, err := server.New(memoryConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- srv.Run(ctx) }()

	req := httptest.NewRequest(http.MethodPost, "/streams/order-1",
		strings.NewReader(`{"expectedEventNumber":0,"events":[{"type":"OrderPlaced","data":{}},{"type":"OrderShipped","data":{}}]}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams", nil))

		var index map[string]int

		if err := json.Unmarshal(rec.Body.Bytes(), &index); err != nil {
			return false
		}

		return index["order-1"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShould_Persist_With_SQLite(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Engine = config.EngineSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "events.db")

	srv, err := server.New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- srv.Run(ctx) }()

	err = srv.Store().AppendToStream(context.Background(), "A", 0, eventlog.EventData{
		Body: httpapi.Envelope{Type: "OrderPlaced", Data: json.RawMessage(`{"id":1}`)},
	})
	require.NoError(t, err)

	events, err := srv.Store().ReadStreamForwards(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, httpapi.Envelope{Type: "OrderPlaced", Data: json.RawMessage(`{"id":1}`)}, events[0].Body)

	cancel()
	require.NoError(t, <-done)
}
