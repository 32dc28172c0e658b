package worker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUPIDRoundTrip(t *testing.T) {
	u := UPID{
		Node:       "node1",
		PID:        4321,
		PStart:     987654,
		TaskID:     7,
		StartTime:  1700000000,
		WorkerType: "backup",
		WorkerID:   "vm-101",
		Username:   "root@pam",
	}

	s := u.String()
	got, err := ParseUPID(s)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestUPIDRoundTripEmptyWorkerID(t *testing.T) {
	u := UPID{
		Node:       "node-a",
		PID:        1,
		PStart:     2,
		TaskID:     3,
		StartTime:  4,
		WorkerType: "gc",
		WorkerID:   "",
		Username:   "backup@pbs",
	}

	got, err := ParseUPID(u.String())
	require.NoError(t, err)
	require.Equal(t, u, got)
	require.Empty(t, got.WorkerID)
}

func TestParseUPIDRejectsGarbage(t *testing.T) {
	_, err := ParseUPID("not a upid")
	require.Error(t, err)
}
