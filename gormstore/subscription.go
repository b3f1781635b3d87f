package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aneshas/eventlog"
)

// feed is the private cursor of one subscription: the last delivered
// sequence of every partition
type feed struct {
	e          *Engine
	cb         eventlog.EventsReceivedFunc
	checkpoint eventlog.PartitionCheckpoint
}

func (e *Engine) newFeed(cb eventlog.EventsReceivedFunc, checkpoint string) (*feed, error) {
	if cb == nil {
		return nil, fmt.Errorf("%w: callback must be provided", eventlog.ErrInvalidArgument)
	}

	cp, err := eventlog.ParsePartitionCheckpoint(checkpoint)
	if err != nil {
		return nil, err
	}

	for partition, token := range cp {
		if _, err := strconv.ParseUint(token, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: malformed token %q for partition %s", eventlog.ErrInvalidArgument, token, partition)
		}
	}

	return &feed{
		e:          e,
		cb:         cb,
		checkpoint: cp,
	}, nil
}

// drain reads every partition independently up to the high-water mark
// taken when the cycle starts, rows committed later are left to the next
// cycle. A failing partition keeps its token while the remaining
// partitions still make progress.
func (f *feed) drain(ctx context.Context) error {
	high, err := f.e.highWaterMark(ctx)
	if err != nil {
		return err
	}

	if high == 0 {
		return nil
	}

	partitions, err := f.e.partitions(ctx)
	if err != nil {
		return err
	}

	var errs []error

	for _, p := range partitions {
		if err := f.drainPartition(ctx, p, high); err != nil {
			errs = append(errs, fmt.Errorf("partition %d: %w", p, err))
		}
	}

	return errors.Join(errs...)
}

func (f *feed) drainPartition(ctx context.Context, partition int, high uint64) error {
	id := strconv.Itoa(partition)
	limit := f.e.cfg.Subscription.MaxItemCount

	for {
		// validated by newFeed, an absent token reads from the start
		after, _ := strconv.ParseUint(f.checkpoint[id], 10, 64)

		var rows []gormEvent

		if err := f.e.inBucket(f.e.db.WithContext(ctx)).
			Where("partition_key = ?", partition).
			Where("sequence > ?", after).
			Where("sequence <= ?", high).
			Order("sequence asc").
			Limit(limit).
			Find(&rows).Error; err != nil {

			return err
		}

		if len(rows) == 0 {
			return nil
		}

		events, err := f.e.decodeRows(rows)
		if err != nil {
			return err
		}

		next := f.checkpoint.With(id, strconv.FormatUint(rows[len(rows)-1].Sequence, 10))

		if err := eventlog.Deliver(ctx, f.cb, events, next.String()); err != nil {
			return err
		}

		f.checkpoint = next

		if len(rows) < limit {
			return nil
		}
	}
}

// highWaterMark returns the last sequence of the bucket, 0 when it is empty
func (e *Engine) highWaterMark(ctx context.Context) (uint64, error) {
	var high uint64

	err := e.inBucket(e.db.WithContext(ctx).Model(&gormEvent{})).
		Select("COALESCE(MAX(sequence), 0)").
		Row().
		Scan(&high)
	if err != nil {
		return 0, err
	}

	return high, nil
}

func (e *Engine) partitions(ctx context.Context) ([]int, error) {
	var partitions []int

	if err := e.db.WithContext(ctx).
		Model(&gormEvent{}).
		Distinct("partition_key").
		Order("partition_key asc").
		Pluck("partition_key", &partitions).Error; err != nil {

		return nil, err
	}

	return partitions, nil
}
