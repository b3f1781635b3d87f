// Package httpapi exposes an event store over HTTP
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aneshas/eventlog"
)

// DefaultPageSize is the number of events GET /all returns unless
// limit is given
const DefaultPageSize = 100

var errPageFull = errors.New("page full")

// Envelope is the body of every event written over HTTP
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Metadata is the metadata of an event written over HTTP
type Metadata map[string]string

// Types returns the payload types events written over HTTP carry, they must
// be registered with the encoder of serializing engines
func Types() []any {
	return []any{Envelope{}, Metadata{}}
}

// EventIn is an event of an append request
type EventIn struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata,omitempty"`
}

// AppendReq is the append request
type AppendReq struct {
	ExpectedEventNumber int       `json:"expectedEventNumber"`
	Events              []EventIn `json:"events"`
}

// EventOut is an event of a read response
type EventOut struct {
	ID          string          `json:"id"`
	StreamID    string          `json:"streamId"`
	EventNumber int             `json:"eventNumber"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	CommittedAt string          `json:"committedAt"`
}

// AllResp is the response of GET /all
type AllResp struct {
	Events     []EventOut `json:"events"`
	Checkpoint string     `json:"checkpoint"`
}

// ErrorResp is returned on every failed request
type ErrorResp struct {
	Error    string `json:"error"`
	Expected *int   `json:"expected,omitempty"`
	Actual   *int   `json:"actual,omitempty"`
}

// Store is the part of the event store served over HTTP
type Store interface {
	AppendToStream(ctx context.Context, streamID string, expectedEventNumber int, events ...eventlog.EventData) error
	ReadStreamForwards(ctx context.Context, streamID string, opts ...eventlog.ReadOpt) ([]eventlog.StorageEvent, error)
	ReadAllForwards(ctx context.Context, cb eventlog.EventsReceivedFunc, sinceCheckpoint string) error
}

// Handler serves the event store endpoints
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler constructs a Handler
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Register mounts the endpoints on e. Metrics of gatherer are served on
// GET /metrics when gatherer is not nil.
func (h *Handler) Register(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.POST("/streams/:id", h.Append)
	e.GET("/streams/:id", h.Read)
	e.GET("/all", h.ReadAll)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Append handles POST /streams/:id
func (h *Handler) Append(c echo.Context) error {
	var req AppendReq

	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: "malformed request: " + err.Error()})
	}

	events := make([]eventlog.EventData, len(req.Events))

	for i, evt := range req.Events {
		events[i] = eventlog.EventData{
			ID: evt.ID,
			Body: Envelope{
				Type: evt.Type,
				Data: evt.Data,
			},
		}

		if evt.Metadata != nil {
			events[i].Metadata = evt.Metadata
		}
	}

	err := h.store.AppendToStream(c.Request().Context(), c.Param("id"), req.ExpectedEventNumber, events...)
	if err != nil {
		return h.fail(c, err)
	}

	return c.NoContent(http.StatusCreated)
}

// Read handles GET /streams/:id?from=&count=
func (h *Handler) Read(c echo.Context) error {
	var opts []eventlog.ReadOpt

	if from := c.QueryParam("from"); from != "" {
		n, err := strconv.Atoi(from)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResp{Error: "from must be a number"})
		}

		opts = append(opts, eventlog.FromEventNumber(n))
	}

	if count := c.QueryParam("count"); count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResp{Error: "count must be a number"})
		}

		opts = append(opts, eventlog.MaxCount(n))
	}

	events, err := h.store.ReadStreamForwards(c.Request().Context(), c.Param("id"), opts...)
	if err != nil {
		return h.fail(c, err)
	}

	out := make([]EventOut, 0, len(events))

	for _, evt := range events {
		out = append(out, toOut(evt))
	}

	return c.JSON(http.StatusOK, out)
}

// ReadAll handles GET /all?checkpoint=&limit=
// It returns at least limit events when available (a batch of the engine is
// never split) and the checkpoint to continue from.
func (h *Handler) ReadAll(c echo.Context) error {
	limit := DefaultPageSize

	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResp{Error: "limit must be a positive number"})
		}

		limit = n
	}

	resp := AllResp{
		Events:     []EventOut{},
		Checkpoint: c.QueryParam("checkpoint"),
	}

	err := h.store.ReadAllForwards(c.Request().Context(), func(_ context.Context, events []eventlog.StorageEvent, checkpoint string) error {
		if len(resp.Events) >= limit {
			return errPageFull
		}

		for _, evt := range events {
			resp.Events = append(resp.Events, toOut(evt))
		}

		resp.Checkpoint = checkpoint

		return nil
	}, resp.Checkpoint)
	if err != nil && !errors.Is(err, errPageFull) {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) fail(c echo.Context, err error) error {
	var concurrencyErr *eventlog.ConcurrencyError

	switch {
	case errors.As(err, &concurrencyErr):
		return c.JSON(http.StatusConflict, ErrorResp{
			Error:    err.Error(),
			Expected: &concurrencyErr.Expected,
			Actual:   &concurrencyErr.Actual,
		})

	case errors.Is(err, eventlog.ErrInvalidArgument), errors.Is(err, eventlog.ErrEventNotRegistered):
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})

	default:
		h.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err)

		return c.JSON(http.StatusInternalServerError, ErrorResp{Error: "internal error"})
	}
}

func toOut(evt eventlog.StorageEvent) EventOut {
	out := EventOut{
		ID:          evt.ID,
		StreamID:    evt.StreamID,
		EventNumber: evt.EventNumber,
		CommittedAt: evt.CommittedAt.UTC().Format(time.RFC3339Nano),
	}

	switch body := evt.Body.(type) {
	case Envelope:
		out.Type = body.Type
		out.Data = body.Data

	default:
		// events appended through the library directly
		if data, err := json.Marshal(body); err == nil {
			out.Data = data
		}
	}

	if meta, ok := evt.Metadata.(Metadata); ok {
		out.Metadata = meta
	}

	return out
}
