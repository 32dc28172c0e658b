package worker

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWorkerStatusLineActive(t *testing.T) {
	upid := UPID{Node: "n", PID: 1, PStart: 2, TaskID: 3, StartTime: 4, WorkerType: "backup", Username: "root@pam"}
	e, err := parseWorkerStatusLine(upid.String())
	require.NoError(t, err)
	require.True(t, e.active)
	require.Equal(t, upid, e.upid)
}

func TestParseWorkerStatusLineFinished(t *testing.T) {
	upid := UPID{Node: "n", PID: 1, PStart: 2, TaskID: 3, StartTime: 4, WorkerType: "backup", Username: "root@pam"}
	line := upid.String() + " 0000001E TASK OK"
	e, err := parseWorkerStatusLine(line)
	require.NoError(t, err)
	require.False(t, e.active)
	require.Equal(t, int64(30), e.endTime)
	require.Equal(t, "TASK OK", e.status)
}

func TestParseWorkerStatusLineRejectsWrongArity(t *testing.T) {
	_, err := parseWorkerStatusLine("one two")
	require.Error(t, err)
}

func TestSortTaskListActiveFirstThenByTime(t *testing.T) {
	mk := func(active bool, start, end int64) taskListEntry {
		return taskListEntry{
			upid:    UPID{StartTime: start},
			active:  active,
			endTime: end,
		}
	}

	list := []taskListEntry{
		mk(false, 0, 50),
		mk(true, 20, 0),
		mk(true, 10, 0),
		mk(false, 0, 10),
	}
	sortTaskList(list)

	require.True(t, list[0].active)
	require.True(t, list[1].active)
	require.Equal(t, int64(10), list[0].upid.StartTime)
	require.Equal(t, int64(20), list[1].upid.StartTime)
	require.False(t, list[2].active)
	require.False(t, list[3].active)
	require.Equal(t, int64(10), list[2].endTime)
	require.Equal(t, int64(50), list[3].endTime)
}

func TestRegistrySpawnRecordsActiveThenFinished(t *testing.T) {
	reg := NewRegistry("testnode", t.TempDir())

	done := make(chan struct{})
	task, err := reg.Spawn("unit-test", "", "root@pam", false, func(tk *Task) error {
		tk.Log("working")
		close(done)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, reg.Running(), 1)

	<-done

	// The completion goroutine finishes asynchronously after fn returns;
	// poll briefly for the active file to reflect the finished state.
	deadline := time.Now().Add(2 * time.Second)
	var raw string
	for time.Now().Before(deadline) {
		data, readErr := os.ReadFile(reg.activePath())
		if readErr == nil && strings.Contains(string(data), "TASK OK") {
			raw = string(data)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Contains(t, raw, task.UPID.String())
	require.Contains(t, raw, "TASK OK")
	require.Empty(t, reg.Running())
}
