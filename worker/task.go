package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// logPath returns the per-task log file path: taskDir/<pstart%256 in hex>/<upid>.
// Bucketing by pstart keeps any one directory from accumulating every log
// file the server has ever produced.
func logPath(taskDir string, upid UPID) string {
	bucket := fmt.Sprintf("%02X", upid.PStart%256)
	return filepath.Join(taskDir, bucket, upid.String())
}

// Task is one running (or finished) worker task: its identity, a
// cooperative abort flag, a progress fraction, and its own log file.
type Task struct {
	UPID UPID

	abortRequested atomic.Bool

	mu       sync.Mutex
	progress float64
	logFile  *os.File
	toStdout bool
}

func newTask(upid UPID, taskDir string, toStdout bool) (*Task, error) {
	path := logPath(taskDir, upid)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create task log %s: %w", path, err)
	}
	return &Task{UPID: upid, logFile: f, toStdout: toStdout}, nil
}

// Log appends one timestamped line to the task's log file (and, if
// configured, to stdout). Lines reporting final status always read
// "<prefix>: TASK OK" or "<prefix>: TASK ERROR: <cause>" so upidReadStatus can
// recover a finished task's outcome by scanning for the "TASK " marker.
func (t *Task) Log(msg string) {
	line := fmt.Sprintf("%s: %s\n", time.Now().Format(time.RFC3339), msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logFile != nil {
		t.logFile.WriteString(line)
	}
	if t.toStdout {
		fmt.Print(line)
	}
}

func (t *Task) Logf(format string, args ...any) {
	t.Log(fmt.Sprintf(format, args...))
}

func (t *Task) logResult(err error) {
	if err != nil {
		t.Log(fmt.Sprintf("TASK ERROR: %v", err))
	} else {
		t.Log("TASK OK")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logFile != nil {
		t.logFile.Close()
		t.logFile = nil
	}
}

// Progress records a 0..1 completion fraction. Out-of-range values are
// dropped rather than stored, mirroring the original's defensive ignore.
func (t *Task) Progress(p float64) {
	if p < 0.0 || p > 1.0 {
		return
	}
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

// ProgressValue returns the last recorded progress fraction.
func (t *Task) ProgressValue() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// RequestAbort sets the cooperative abort flag; the task itself must poll
// FailOnAbort (or AbortRequested) to notice.
func (t *Task) RequestAbort() {
	t.abortRequested.Store(true)
}

func (t *Task) AbortRequested() bool {
	return t.abortRequested.Load()
}

// FailOnAbort returns an error if abort was requested, for call sites deep
// in a long-running loop to check periodically.
func (t *Task) FailOnAbort() error {
	if t.AbortRequested() {
		return fmt.Errorf("task %q: abort requested", t.UPID.String())
	}
	return nil
}
