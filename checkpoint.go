package eventlog

import (
	"encoding/json"
	"fmt"
)

// PartitionCheckpoint maps a partition id to a partition local continuation
// token. Partitioned engines serialize it as their checkpoint so that the
// position of every partition survives a restart as a single string.
type PartitionCheckpoint map[string]string

// ParsePartitionCheckpoint decodes a checkpoint produced by
// PartitionCheckpoint.String. An empty checkpoint yields an empty map.
func ParsePartitionCheckpoint(checkpoint string) (PartitionCheckpoint, error) {
	cp := make(PartitionCheckpoint)

	if checkpoint == "" {
		return cp, nil
	}

	if err := json.Unmarshal([]byte(checkpoint), &cp); err != nil {
		return nil, fmt.Errorf("%w: malformed partition checkpoint: %v", ErrInvalidArgument, err)
	}

	return cp, nil
}

// String encodes the checkpoint as a flat JSON object
func (cp PartitionCheckpoint) String() string {
	if len(cp) == 0 {
		return ""
	}

	// map[string]string always marshals
	data, _ := json.Marshal(map[string]string(cp))

	return string(data)
}

// With returns a copy of cp with partition set to token
func (cp PartitionCheckpoint) With(partition, token string) PartitionCheckpoint {
	out := make(PartitionCheckpoint, len(cp)+1)

	for k, v := range cp {
		out[k] = v
	}

	out[partition] = token

	return out
}
