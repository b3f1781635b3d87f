package server

import (
	"context"
	"sync"

	"github.com/aneshas/eventlog"
)

// StreamIndex is a projection tracking the current revision of every stream
type StreamIndex struct {
	mu      sync.RWMutex
	streams map[string]int
}

// NewStreamIndex constructs an empty StreamIndex
func NewStreamIndex() *StreamIndex {
	return &StreamIndex{streams: make(map[string]int)}
}

// Project records evt
func (i *StreamIndex) Project(_ context.Context, evt eventlog.StorageEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if evt.EventNumber > i.streams[evt.StreamID] {
		i.streams[evt.StreamID] = evt.EventNumber
	}

	return nil
}

// Snapshot returns a copy of the index
func (i *StreamIndex) Snapshot() map[string]int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[string]int, len(i.streams))

	for id, n := range i.streams {
		out[id] = n
	}

	return out
}
