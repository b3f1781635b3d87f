package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/ambar"
	"github.com/aneshas/eventlog/ambar/echoambar"
)

// ReplicationCfg configures the ambar replication endpoint
type ReplicationCfg struct {
	// SourceBucket is the bucket of the source event table to replicate
	SourceBucket string
	Username     string
	Password     string
}

// RegisterReplication mounts POST /ambar/replicate. Events pushed by ambar
// from the event table of another store are copied into the local store
// keeping their identity and event number.
func (h *Handler) RegisterReplication(e *echo.Echo, dec ambar.Decoder, cfg ReplicationCfg) {
	g := e.Group("/ambar")

	if cfg.Username != "" {
		g.Use(middleware.BasicAuth(func(username, password string, _ echo.Context) (bool, error) {
			userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1

			return userOK && passOK, nil
		}))
	}

	hf := echoambar.Wrap(
		ambar.New(dec, ambar.WithBucket(cfg.SourceBucket)),
		echoambar.WithLogger(h.logger.With("endpoint", "replicate")),
	)

	g.POST("/replicate", hf(Replicate(h.store)))
}

// Replicate returns a callback appending every received event to its stream
// at its original event number. Events the stream already holds are
// acknowledged without writing, so redelivery is harmless.
func Replicate(store Store) eventlog.EventsReceivedFunc {
	return func(ctx context.Context, events []eventlog.StorageEvent, _ string) error {
		for _, evt := range events {
			err := store.AppendToStream(ctx, evt.StreamID, evt.EventNumber-1, evt.EventData)

			var concurrencyErr *eventlog.ConcurrencyError

			switch {
			case err == nil:

			case errors.As(err, &concurrencyErr) && concurrencyErr.Actual >= evt.EventNumber:
				// already replicated

			case errors.As(err, &concurrencyErr):
				return fmt.Errorf("stream %s is missing events before %d: %w", evt.StreamID, evt.EventNumber, err)

			case errors.Is(err, eventlog.ErrInvalidArgument):
				return fmt.Errorf("%w: %v", ambar.ErrKeepItGoing, err)

			default:
				return err
			}
		}

		return nil
	}
}
