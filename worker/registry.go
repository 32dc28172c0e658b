package worker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dolthub/fslock"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"
)

// maxHistory caps how many finished tasks the active-tasks file retains,
// exactly as worker_task.rs's update_active_workers does ("fill up to 1000
// entries with finished tasks").
const maxHistory = 1000

const lockTimeout = 10 * time.Second

// Registry tracks every worker task this process has started, and
// maintains the on-disk active-tasks file other processes (or this one,
// after a restart) use to reconcile which UPIDs are still actually
// running.
type Registry struct {
	node    string
	taskDir string

	nextID uint64

	mu    sync.Mutex
	tasks map[uint64]*Task
}

// NewRegistry creates a registry rooted at taskDir (it and its active-file
// lock sibling are created on demand).
func NewRegistry(node, taskDir string) *Registry {
	return &Registry{
		node:    node,
		taskDir: taskDir,
		tasks:   make(map[uint64]*Task),
	}
}

func (r *Registry) lockPath() string   { return filepath.Join(r.taskDir, ".active.lock") }
func (r *Registry) activePath() string { return filepath.Join(r.taskDir, "active") }

// Spawn creates a new task, records it as active, and runs fn in its own
// goroutine, logging "TASK OK"/"TASK ERROR: ..." and updating the
// active-tasks file when fn returns.
func (r *Registry) Spawn(workerType, workerID, username string, toStdout bool, fn func(*Task) error) (*Task, error) {
	task, err := r.newTask(workerType, workerID, username, toStdout)
	if err != nil {
		return nil, err
	}

	go func() {
		err := fn(task)

		r.mu.Lock()
		delete(r.tasks, task.UPID.TaskID)
		r.mu.Unlock()

		task.logResult(err)
		if err := r.updateActiveWorkers(nil); err != nil {
			task.Logf("failed to update active worker list: %v", err)
		}
	}()

	return task, nil
}

func (r *Registry) newTask(workerType, workerID, username string, toStdout bool) (*Task, error) {
	pid := int32(os.Getpid())
	pstart, err := processStartTime(pid)
	if err != nil {
		return nil, fmt.Errorf("read own process start time: %w", err)
	}

	taskID := atomic.AddUint64(&r.nextID, 1) - 1

	upid := UPID{
		Node:       r.node,
		PID:        pid,
		PStart:     pstart,
		TaskID:     taskID,
		StartTime:  time.Now().Unix(),
		WorkerType: workerType,
		WorkerID:   workerID,
		Username:   username,
	}

	task, err := newTask(upid, r.taskDir, toStdout)
	if err != nil {
		return nil, err
	}

	if err := r.updateActiveWorkers(&upid); err != nil {
		task.logFile.Close()
		return nil, fmt.Errorf("register worker: %w", err)
	}

	r.mu.Lock()
	r.tasks[taskID] = task
	r.mu.Unlock()

	return task, nil
}

// Running reports every task this process currently has registered.
func (r *Registry) Running() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

type taskListEntry struct {
	upid    UPID
	upidStr string
	active  bool
	endTime int64
	status  string
}

// updateActiveWorkers reconciles the on-disk active-tasks file: every
// UPID it finds is checked for liveness (this process's own in-memory
// registry if the pid/pstart match us, otherwise a /proc probe via
// gopsutil), newUPID is folded in if given, and the result is capped to
// maxHistory finished entries and rewritten.
func (r *Registry) updateActiveWorkers(newUPID *UPID) error {
	if err := os.MkdirAll(r.taskDir, 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	lock := fslock.New(r.lockPath())
	if err := lock.LockWithTimeout(lockTimeout); err != nil {
		return fmt.Errorf("lock active task file: %w", err)
	}
	defer lock.Unlock()

	myPid := int32(os.Getpid())
	myPstart, err := processStartTime(myPid)
	if err != nil {
		return fmt.Errorf("read own process start time: %w", err)
	}

	entries, err := r.readActiveFile()
	if err != nil {
		return err
	}

	// Foreign entries require a /proc probe per pid; fan those out
	// concurrently rather than serially, since an active-tasks file can
	// carry many other processes' still-running tasks.
	var g errgroup.Group
	for i := range entries {
		e := &entries[i]
		if e.upid.PID == myPid && e.upid.PStart == myPstart {
			r.mu.Lock()
			_, stillOurs := r.tasks[e.upid.TaskID]
			r.mu.Unlock()
			e.active = stillOurs
			continue
		}
		g.Go(func() error {
			e.active = checkProcessRunning(e.upid.PID, e.upid.PStart)
			return nil
		})
	}
	_ = g.Wait()

	byUPID := make(map[string]taskListEntry, len(entries)+1)
	for _, e := range entries {
		if !e.active && e.endTime == 0 && e.status == "" {
			e.endTime = time.Now().Unix()
			e.status = upidReadStatus(r.taskDir, e.upid)
		}

		byUPID[e.upidStr] = e
	}

	if newUPID != nil {
		byUPID[newUPID.String()] = taskListEntry{upid: *newUPID, upidStr: newUPID.String(), active: true}
	}

	list := make([]taskListEntry, 0, len(byUPID))
	for _, e := range byUPID {
		list = append(list, e)
	}

	sortTaskList(list)
	if len(list) > maxHistory {
		list = capHistory(list, maxHistory)
	}

	return r.writeActiveFile(list)
}

// capHistory keeps every active entry plus up to max finished ones, since
// sortTaskList already placed actives first.
func capHistory(list []taskListEntry, max int) []taskListEntry {
	activeCount := 0
	for _, e := range list {
		if e.active {
			activeCount++
		} else {
			break
		}
	}
	limit := activeCount + max
	if limit > len(list) {
		limit = len(list)
	}
	return list[:limit]
}

// sortTaskList orders active tasks first (by start time), then finished
// tasks (by end time) — the REDESIGN from worker_task.rs's literal
// comparator, which sorted finished tasks ahead of active ones.
func sortTaskList(list []taskListEntry) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.active != b.active {
			return a.active
		}
		if a.active {
			return a.upid.StartTime < b.upid.StartTime
		}
		return a.endTime < b.endTime
	})
}

func (r *Registry) readActiveFile() ([]taskListEntry, error) {
	f, err := os.Open(r.activePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open active task file: %w", err)
	}
	defer f.Close()

	var entries []taskListEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseWorkerStatusLine(line)
		if err != nil {
			return nil, fmt.Errorf("parse active worker status %q: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read active task file: %w", err)
	}
	return entries, nil
}

func (r *Registry) writeActiveFile(list []taskListEntry) error {
	var sb strings.Builder
	for _, e := range list {
		if e.active {
			sb.WriteString(e.upidStr)
			sb.WriteByte('\n')
			continue
		}
		fmt.Fprintf(&sb, "%s %08X %s\n", e.upidStr, e.endTime, e.status)
	}

	tmp := r.activePath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write active task file: %w", err)
	}
	return os.Rename(tmp, r.activePath())
}

// parseWorkerStatusLine parses one line of the active-tasks file: either a
// bare UPID (active) or "UPID ENDTIME_HEX STATUS" (finished).
func parseWorkerStatusLine(line string) (taskListEntry, error) {
	fields := strings.SplitN(line, " ", 3)
	switch len(fields) {
	case 1:
		upid, err := ParseUPID(fields[0])
		if err != nil {
			return taskListEntry{}, err
		}
		return taskListEntry{upid: upid, upidStr: fields[0], active: true}, nil
	case 3:
		upid, err := ParseUPID(fields[0])
		if err != nil {
			return taskListEntry{}, err
		}
		endtime, err := strconv.ParseInt(fields[1], 16, 64)
		if err != nil {
			return taskListEntry{}, fmt.Errorf("parse end time: %w", err)
		}
		return taskListEntry{upid: upid, upidStr: fields[0], active: false, endTime: endtime, status: fields[2]}, nil
	default:
		return taskListEntry{}, fmt.Errorf("wrong number of components (%d)", len(fields))
	}
}

// upidReadStatus scans a finished task's own log file for its final
// "TASK OK" / "TASK ERROR: ..." line.
func upidReadStatus(taskDir string, upid UPID) string {
	f, err := os.Open(logPath(taskDir, upid))
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	status := "unknown"
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		_, rest, found := strings.Cut(line, ": TASK ")
		if !found {
			continue
		}
		if rest == "OK" || strings.HasPrefix(rest, "ERROR: ") {
			status = rest
		}
	}
	return status
}

func processStartTime(pid int32) (uint64, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	ct, err := p.CreateTime()
	if err != nil {
		return 0, err
	}
	return uint64(ct), nil
}

// checkProcessRunning reports whether pid is still the same process that
// had creation-time signature pstart — a process-table slot getting
// recycled to an unrelated process is distinguished from the original task
// still running, analogous to /proc/<pid>/stat's starttime field comparison
// in the original.
func checkProcessRunning(pid int32, pstart uint64) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	ct, err := p.CreateTime()
	if err != nil {
		return false
	}
	return uint64(ct) == pstart
}
