package eventlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
)

func TestShould_Parse_Empty_Partition_Checkpoint(t *testing.T) {
	cp, err := eventlog.ParsePartitionCheckpoint("")

	require.NoError(t, err)
	assert.Empty(t, cp)
	assert.Equal(t, "", cp.String())
}

func TestShould_Round_Trip_Partition_Checkpoint(t *testing.T) {
	cp := eventlog.PartitionCheckpoint{}.With("0", "12").With("3", "40")

	parsed, err := eventlog.ParsePartitionCheckpoint(cp.String())

	require.NoError(t, err)
	assert.Equal(t, cp, parsed)
	assert.JSONEq(t, `{"0":"12","3":"40"}`, cp.String())
}

func TestShould_Not_Mutate_Partition_Checkpoint(t *testing.T) {
	cp := eventlog.PartitionCheckpoint{"0": "1"}

	next := cp.With("0", "2")

	assert.Equal(t, "1", cp["0"])
	assert.Equal(t, "2", next["0"])
}

func TestShould_Reject_Malformed_Partition_Checkpoint(t *testing.T) {
	_, err := eventlog.ParsePartitionCheckpoint("not-a-checkpoint")

	assert.ErrorIs(t, err, eventlog.ErrInvalidArgument)
}
