// Package worker implements the session-independent worker task registry:
// UPID identifiers, per-task log files, the abort flag, and the
// fslock-protected active-tasks file used to survive a server restart.
// Grounded on original_source/src/server/worker_task.rs.
package worker

import (
	"fmt"
	"regexp"
	"strconv"
)

// UPID (Unique Process-instance Identifier) names one worker task: which
// node and process ran it, its crash-recovery liveness signature
// (pid, pstart), and the task's own sequence number.
type UPID struct {
	Node       string
	PID        int32
	PStart     uint64
	TaskID     uint64
	StartTime  int64
	WorkerType string
	WorkerID   string // empty means none, mirrors the original's Option<String>
	Username   string
}

var upidRegex = regexp.MustCompile(
	`^UPID:(?P<node>[a-zA-Z0-9]([a-zA-Z0-9\-]*[a-zA-Z0-9])?):(?P<pid>[0-9A-Fa-f]{8}):` +
		`(?P<pstart>[0-9A-Fa-f]{8,16}):(?P<task_id>[0-9A-Fa-f]{8,16}):(?P<starttime>[0-9A-Fa-f]{8}):` +
		`(?P<wtype>[^:\s]+):(?P<wid>[^:\s]*):(?P<username>[^:\s]+):$`,
)

// ParseUPID parses the canonical UPID text form. The inverse of
// UPID.String.
func ParseUPID(s string) (UPID, error) {
	m := upidRegex.FindStringSubmatch(s)
	if m == nil {
		return UPID{}, fmt.Errorf("unable to parse UPID %q", s)
	}
	names := upidRegex.SubexpNames()
	group := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" {
			group[name] = m[i]
		}
	}

	pid, err := strconv.ParseInt(group["pid"], 16, 32)
	if err != nil {
		return UPID{}, fmt.Errorf("parse UPID pid: %w", err)
	}
	pstart, err := strconv.ParseUint(group["pstart"], 16, 64)
	if err != nil {
		return UPID{}, fmt.Errorf("parse UPID pstart: %w", err)
	}
	taskID, err := strconv.ParseUint(group["task_id"], 16, 64)
	if err != nil {
		return UPID{}, fmt.Errorf("parse UPID task_id: %w", err)
	}
	startTime, err := strconv.ParseInt(group["starttime"], 16, 64)
	if err != nil {
		return UPID{}, fmt.Errorf("parse UPID starttime: %w", err)
	}

	return UPID{
		Node:       group["node"],
		PID:        int32(pid),
		PStart:     pstart,
		TaskID:     taskID,
		StartTime:  startTime,
		WorkerType: group["wtype"],
		WorkerID:   group["wid"],
		Username:   group["username"],
	}, nil
}

// String renders the canonical UPID text form, e.g.
// "UPID:node1:00001A2B:0056B3A0:00000001:60F1A2B3:backup:vm-101:root@pam:".
// pid, pstart, task_id and starttime are all printed with at least eight
// hex digits; pstart and task_id grow wider when their value needs it, and
// the parser accepts 8 to 16 digits for those two.
func (u UPID) String() string {
	return fmt.Sprintf("UPID:%s:%08X:%08X:%08X:%08X:%s:%s:%s:",
		u.Node, u.PID, u.PStart, u.TaskID, u.StartTime, u.WorkerType, u.WorkerID, u.Username)
}
