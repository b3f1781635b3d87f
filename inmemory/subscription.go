package inmemory

import (
	"context"

	"github.com/aneshas/eventlog"
)

// cursor is the private position of one subscription in the all-stream log.
// It is only touched by the goroutine running its drain.
type cursor struct {
	backend *Backend
	bucket  string
	cb      eventlog.EventsReceivedFunc

	// position is the offset of the next record to look at
	position int

	// pending holds the checkpoint event identity until it has been found
	pending string
}

func (e *Engine) newCursor(cb eventlog.EventsReceivedFunc, checkpoint string) *cursor {
	return &cursor{
		backend: e.backend,
		bucket:  e.cfg.Bucket,
		cb:      cb,
		pending: checkpoint,
	}
}

// drain dispatches every record committed after the cursor, one event per
// callback. The cursor moves past an event only once its callback succeeded,
// a failure aborts the cycle so the next one starts with the same event.
func (c *cursor) drain(ctx context.Context) error {
	for _, rec := range c.backend.snapshot(c.position) {
		if rec.bucket != c.bucket {
			c.position++

			continue
		}

		if c.pending != "" {
			if rec.event.ID == c.pending {
				c.pending = ""
			}

			c.position++

			continue
		}

		err := eventlog.Deliver(ctx, c.cb, []eventlog.StorageEvent{rec.event}, rec.event.ID)
		if err != nil {
			return err
		}

		c.position++
	}

	return nil
}
