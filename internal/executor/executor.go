// Package executor spawns and tracks OS processes for the execute/kill/list
// commands. Processes run in their own process group and outlive the request
// that started them; a watcher goroutine records the exit out-of-band.
package executor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanops/lanagent/pkg/logger"
)

// State is the lifecycle phase of a tracked process.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateKilled  State = "killed"
)

var (
	// ErrProcessNotFound covers unknown pids and already-finished processes;
	// Kill on either returns it rather than corrupting state.
	ErrProcessNotFound = errors.New("process not found")
	// ErrCommandNotAllowed is returned when the executable is outside the
	// configured allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")
)

// IsNotFound reports whether err stems from an unknown or finished pid.
func IsNotFound(err error) bool { return errors.Is(err, ErrProcessNotFound) }

// IsNotAllowed reports whether err stems from the allow-list gate.
func IsNotAllowed(err error) bool { return errors.Is(err, ErrCommandNotAllowed) }

// ProcessRecord is the tracked state of one spawned process.
type ProcessRecord struct {
	PID        int       `json:"pid"`
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`

	killRequested bool
}

// Executor tracks spawned processes. The mutex covers only map and record
// mutation; spawning, signalling and waiting happen outside it.
type Executor struct {
	mu    sync.Mutex
	procs map[int]*ProcessRecord

	logsDir string
	allowed map[string]bool // empty means any executable is allowed
}

// New creates an executor writing per-process output under logsDir. A
// non-empty allowed list restricts which executables Execute will spawn.
func New(logsDir string, allowed []string) *Executor {
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	return &Executor{
		procs:   make(map[int]*ProcessRecord),
		logsDir: logsDir,
		allowed: allow,
	}
}

// Allowed reports whether the executable passes the allow-list.
func (e *Executor) Allowed(name string) bool {
	return len(e.allowed) == 0 || e.allowed[name]
}

// Execute spawns the command asynchronously and returns its record in Running
// state. Completion is tracked out-of-band; the caller never waits.
func (e *Executor) Execute(name string, argv []string) (ProcessRecord, error) {
	if name == "" {
		return ProcessRecord{}, errors.New("empty command")
	}
	if !e.Allowed(name) {
		return ProcessRecord{}, errors.Wrap(ErrCommandNotAllowed, name)
	}

	var logFile *os.File
	logPath := ""
	if e.logsDir != "" {
		if err := os.MkdirAll(e.logsDir, 0o755); err != nil {
			return ProcessRecord{}, errors.Wrap(err, "mkdir process logs dir")
		}
		logPath = filepath.Join(e.logsDir, fmt.Sprintf("%s-%d.log", filepath.Base(name), time.Now().UnixNano()))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return ProcessRecord{}, errors.Wrap(err, "open process log")
		}
		logFile = f
	}

	cmd := exec.Command(name, argv...)
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	cmd.Stdin = nil
	// Own process group, so Kill can signal the whole tree without touching
	// the agent itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return ProcessRecord{}, errors.Wrapf(err, "start %s", name)
	}

	rec := &ProcessRecord{
		PID:       cmd.Process.Pid,
		Command:   name,
		Args:      argv,
		State:     StateRunning,
		StartedAt: time.Now(),
		LogPath:   logPath,
	}

	e.mu.Lock()
	e.procs[rec.PID] = rec
	e.mu.Unlock()

	logger.WithField("pid", rec.PID).Infof("spawned %s", name)
	go e.watch(cmd, rec.PID, logFile)

	return *rec, nil
}

// watch blocks on the child and flips the record state once it exits.
func (e *Executor) watch(cmd *exec.Cmd, pid int, logFile *os.File) {
	err := cmd.Wait()
	if logFile != nil {
		_ = logFile.Close()
	}

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	e.mu.Lock()
	if rec, ok := e.procs[pid]; ok {
		if rec.killRequested {
			rec.State = StateKilled
		} else {
			rec.State = StateExited
		}
		rec.ExitCode = &code
		rec.FinishedAt = time.Now()
	}
	e.mu.Unlock()

	logger.WithField("pid", pid).Infof("process finished (exit=%d)", code)
}

// Kill terminates a running process by pid: SIGTERM to the group, a bounded
// wait, then SIGKILL. Unknown or already-finished pids return
// ErrProcessNotFound, so repeated kills are safe.
func (e *Executor) Kill(pid int) error {
	e.mu.Lock()
	rec, ok := e.procs[pid]
	if !ok || rec.State != StateRunning {
		e.mu.Unlock()
		return ErrProcessNotFound
	}
	rec.killRequested = true
	e.mu.Unlock()

	if err := stopProcessGroup(pid, 5*time.Second); err != nil {
		return errors.Wrapf(err, "kill pid %d", pid)
	}
	return nil
}

// Get returns a copy of the record for pid.
func (e *Executor) Get(pid int) (ProcessRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.procs[pid]
	if !ok {
		return ProcessRecord{}, false
	}
	return *rec, true
}

// List returns a point-in-time snapshot of all tracked processes, ordered by
// start time. A listed process may have finished by the time the caller reads it.
func (e *Executor) List() []ProcessRecord {
	e.mu.Lock()
	out := make([]ProcessRecord, 0, len(e.procs))
	for _, rec := range e.procs {
		out = append(out, *rec)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].PID < out[j].PID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Reap drops finished records older than the given age and returns how many
// were removed. Running processes are never reaped.
func (e *Executor) Reap(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for pid, rec := range e.procs {
		if rec.State != StateRunning && !rec.FinishedAt.IsZero() && rec.FinishedAt.Before(cutoff) {
			delete(e.procs, pid)
			removed++
		}
	}
	return removed
}

// processAlive checks existence with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// stopProcessGroup sends SIGTERM to the group, polls for exit until the
// timeout, then falls back to SIGKILL.
func stopProcessGroup(pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		// Group may be gone already; fall back to the single process.
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = unix.Kill(-pid, unix.SIGKILL)
	_ = unix.Kill(pid, unix.SIGKILL)
	return nil
}
