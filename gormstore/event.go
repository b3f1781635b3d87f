package gormstore

import (
	"time"

	"github.com/aneshas/eventlog"
)

type gormEvent struct {
	Sequence     uint64  `gorm:"autoIncrement;primaryKey;index:idx_partition_feed,priority:2"`
	EventID      string  `gorm:"index"`
	StreamID     string  `gorm:"index:idx_optimistic_check,unique;index"`
	Bucket       *string `gorm:"index:idx_optimistic_check,unique"`
	EventNumber  int     `gorm:"index:idx_optimistic_check,unique"`
	PartitionKey int     `gorm:"index:idx_partition_feed,priority:1"`
	BodyType     string
	Body         string
	MetadataType *string
	Metadata     *string
	CommittedAt  time.Time
}

// TableName returns gorm table name
func (ge *gormEvent) TableName() string { return "event" }

func (e *Engine) toRows(streamID string, events []eventlog.StorageEvent, bucket *string) ([]gormEvent, error) {
	rows := make([]gormEvent, len(events))

	committedAt := time.Now().UTC()
	partition := e.partitionOf(streamID)

	for i, evt := range events {
		body, err := e.enc.Encode(evt.Body)
		if err != nil {
			return nil, err
		}

		row := gormEvent{
			EventID:      evt.ID,
			StreamID:     streamID,
			Bucket:       bucket,
			EventNumber:  evt.EventNumber,
			PartitionKey: partition,
			BodyType:     body.Type,
			Body:         body.Data,
			CommittedAt:  committedAt,
		}

		if evt.Metadata != nil {
			meta, err := e.enc.Encode(evt.Metadata)
			if err != nil {
				return nil, err
			}

			row.MetadataType = &meta.Type
			row.Metadata = &meta.Data
		}

		rows[i] = row
	}

	return rows, nil
}

func (e *Engine) decodeRows(rows []gormEvent) ([]eventlog.StorageEvent, error) {
	out := make([]eventlog.StorageEvent, len(rows))

	for i, row := range rows {
		body, err := e.enc.Decode(&eventlog.EncodedEvt{
			Data: row.Body,
			Type: row.BodyType,
		})
		if err != nil {
			return nil, err
		}

		var meta any

		if row.Metadata != nil && row.MetadataType != nil {
			meta, err = e.enc.Decode(&eventlog.EncodedEvt{
				Data: *row.Metadata,
				Type: *row.MetadataType,
			})
			if err != nil {
				return nil, err
			}
		}

		out[i] = eventlog.StorageEvent{
			EventData: eventlog.EventData{
				ID:       row.EventID,
				Body:     body,
				Metadata: meta,
			},
			StreamID:    row.StreamID,
			EventNumber: row.EventNumber,
			CommittedAt: row.CommittedAt,
		}
	}

	return out, nil
}
