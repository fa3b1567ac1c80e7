// Package supervise launches external worker processes into named
// slots, streams their interleaved output to any number of observers,
// and tracks lifecycle through to exit status.
//
// A slot is a logical execution context ("monitor", "bounty-launch");
// at most one non-terminal job may occupy a slot at any time. Only the
// supervisor mutates job records; observers get value snapshots.
package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

// DefaultGracePeriod bounds the wait between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Supervisor owns the slot table and every child process lifecycle.
type Supervisor struct {
	grace  time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	slots map[string]*job

	events *hub
	wg     sync.WaitGroup
}

// job is the mutable record behind a slot. Guarded by its own mutex;
// the supervisor is the single writer.
type job struct {
	mu        sync.Mutex
	snap      core.Job
	cmd       *exec.Cmd
	streamer  *streamer
	cancelled bool
	cause     core.TerminationCause
	acked     bool
	done      chan struct{}
}

func (j *job) snapshot() core.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return cloneJob(j.snap)
}

func cloneJob(src core.Job) core.Job {
	out := src
	if src.ExitCode != nil {
		code := *src.ExitCode
		out.ExitCode = &code
	}
	if src.Args != nil {
		out.Args = append([]string(nil), src.Args...)
	}
	return out
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod overrides the SIGTERM-to-SIGKILL wait.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// New creates a supervisor. The logger is injected, never global.
func New(logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		grace:  DefaultGracePeriod,
		logger: logger,
		slots:  make(map[string]*job),
		events: newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LaunchOptions carries per-launch settings.
type LaunchOptions struct {
	// Timeout, when positive, cancels the job if it is still running
	// after the duration elapses. The job ends Cancelled with cause
	// TimedOut.
	Timeout time.Duration

	// Env entries are appended to the inherited environment.
	Env map[string]string
}

// Launch spawns program in the given slot. It fails with ErrSlotBusy
// if a non-terminal job occupies the slot, and with *core.SpawnError
// if the process cannot start, in which case no job record is created
// and the slot stays free for retry.
func (s *Supervisor) Launch(slot, program string, args []string, dir string, opts LaunchOptions) (*Handle, error) {
	if program == "" {
		return nil, &core.SpawnError{Slot: slot, Program: program, Err: fmt.Errorf("empty command")}
	}

	s.mu.Lock()

	if existing, ok := s.slots[slot]; ok {
		if !existing.snapshot().State.Terminal() {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", core.ErrSlotBusy, slot)
		}
	}

	cmd := exec.Command(program, args...)
	cmd.Dir = dir
	// Own process group so cancellation reaches the whole worker tree
	// (npm spawns node children).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return nil, &core.SpawnError{Slot: slot, Program: program, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return nil, &core.SpawnError{Slot: slot, Program: program, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, &core.SpawnError{Slot: slot, Program: program, Err: err}
	}

	j := &job{
		snap: core.Job{
			ID:        uuid.NewString(),
			Slot:      slot,
			Program:   program,
			Args:      append([]string(nil), args...),
			Dir:       dir,
			State:     core.StateRunning,
			StartedAt: time.Now(),
		},
		cmd:  cmd,
		done: make(chan struct{}),
	}
	j.streamer = newStreamer(slot, func(stream string, err error) {
		s.logger.Warn("stream read error", "slot", slot, "stream", stream, "err", err)
	})
	s.slots[slot] = j
	s.mu.Unlock()

	s.logger.Info("job launched", "slot", slot, "pid", cmd.Process.Pid, "program", program, "args", strings.Join(args, " "))

	// Publish the running event before the wait goroutine can race it
	// with a terminal one.
	s.events.publish(j.snapshot())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Streams must be drained before Wait reaps the child, or the
		// pipes close under the scanners.
		j.streamer.run(stdout, stderr)
		s.finish(j)
	}()

	if opts.Timeout > 0 {
		go s.watchTimeout(j, opts.Timeout)
	}

	return &Handle{job: j}, nil
}

func (s *Supervisor) finish(j *job) {
	waitErr := j.cmd.Wait()

	j.mu.Lock()
	ps := j.cmd.ProcessState
	switch {
	case j.cancelled && (ps == nil || !ps.Exited()):
		j.snap.State = core.StateCancelled
		j.snap.Cause = j.cause
	case waitErr != nil && ps == nil:
		// The supervising logic itself failed, distinct from the
		// worker exiting non-zero.
		j.snap.State = core.StateFailed
		j.snap.Err = waitErr.Error()
	default:
		// A normal exit wins over a cancel that raced it: a process
		// that exited on its own before the signal landed was not
		// terminated by cancellation.
		j.snap.State = core.StateCompleted
		j.snap.Cause = core.CauseExited
	}
	if j.cmd.ProcessState != nil {
		code := j.cmd.ProcessState.ExitCode()
		j.snap.ExitCode = &code
	}
	snap := cloneJob(j.snap)
	j.mu.Unlock()

	close(j.done)
	s.logger.Info("job finished", "slot", snap.Slot, "state", snap.State, "exit_code", snap.ExitCode, "cause", snap.Cause)
	s.events.publish(snap)
}

func (s *Supervisor) watchTimeout(j *job, d time.Duration) {
	select {
	case <-j.done:
	case <-time.After(d):
		s.logger.Warn("job deadline elapsed, cancelling", "slot", j.snapshot().Slot, "timeout", d)
		s.cancelJob(j, true, core.CauseTimedOut)
	}
}

// Cancel requests termination of the slot's running job. Graceful
// cancellation sends SIGTERM to the process group and escalates to
// SIGKILL after the grace period. Cancelling an absent or finished
// slot is a no-op, not an error.
func (s *Supervisor) Cancel(slot string, graceful bool) error {
	s.mu.RLock()
	j := s.slots[slot]
	s.mu.RUnlock()
	if j == nil {
		return nil
	}
	return s.cancelJob(j, graceful, core.CauseCancelled)
}

func (s *Supervisor) cancelJob(j *job, graceful bool, cause core.TerminationCause) error {
	j.mu.Lock()
	if j.snap.State != core.StateRunning || j.cancelled {
		j.mu.Unlock()
		return nil
	}
	j.cancelled = true
	j.cause = cause
	pid := j.cmd.Process.Pid
	slot := j.snap.Slot
	j.mu.Unlock()

	if !graceful {
		syscall.Kill(-pid, syscall.SIGKILL)
		<-j.done
		return nil
	}

	s.logger.Info("cancelling job", "slot", slot, "pid", pid, "grace", s.grace)
	syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-j.done:
	case <-time.After(s.grace):
		s.logger.Warn("grace period elapsed, killing", "slot", slot, "pid", pid)
		syscall.Kill(-pid, syscall.SIGKILL)
		<-j.done
	}
	return nil
}

// Status returns a snapshot of the slot's job, or ErrUnknownSlot if
// the slot was never launched. Reading a terminal status acknowledges
// it, which makes the record eligible for Reap.
func (s *Supervisor) Status(slot string) (core.Job, error) {
	s.mu.RLock()
	j := s.slots[slot]
	s.mu.RUnlock()
	if j == nil {
		return core.Job{}, fmt.Errorf("%w: %s", core.ErrUnknownSlot, slot)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.State.Terminal() {
		j.acked = true
	}
	return cloneJob(j.snap), nil
}

// Jobs returns snapshots of every slot, sorted by slot name.
func (s *Supervisor) Jobs() []core.Job {
	s.mu.RLock()
	jobs := make([]core.Job, 0, len(s.slots))
	for _, j := range s.slots {
		jobs = append(jobs, j.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Slot < jobs[k].Slot })
	return jobs
}

// Reap removes terminal jobs whose final status has been read at least
// once, and returns how many were removed.
func (s *Supervisor) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for slot, j := range s.slots {
		j.mu.Lock()
		dead := j.snap.State.Terminal() && j.acked
		j.mu.Unlock()
		if dead {
			delete(s.slots, slot)
			n++
		}
	}
	return n
}

// SubscribeOutput attaches an observer to the slot's live output. The
// channel receives every subsequent line and closes when the process's
// streams close. An observer that stops draining is disconnected by a
// channel close once its buffer fills; RecentOutput remains available.
func (s *Supervisor) SubscribeOutput(slot string) (<-chan core.OutputLine, error) {
	s.mu.RLock()
	j := s.slots[slot]
	s.mu.RUnlock()
	if j == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownSlot, slot)
	}
	return j.streamer.subscribe(), nil
}

// RecentOutput returns up to n of the slot's most recent output lines.
func (s *Supervisor) RecentOutput(slot string, n int) ([]core.OutputLine, error) {
	s.mu.RLock()
	j := s.slots[slot]
	s.mu.RUnlock()
	if j == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownSlot, slot)
	}
	return j.streamer.history(n), nil
}

// Events returns a channel of job status snapshots: one on launch and
// one on every terminal transition.
func (s *Supervisor) Events() <-chan core.Job {
	return s.events.subscribe()
}

// Shutdown cancels every running job and waits for all supervision
// goroutines to drain.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.slots))
	for _, j := range s.slots {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	for _, j := range jobs {
		s.cancelJob(j, true, core.CauseCancelled)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown wait aborted", "err", ctx.Err())
	}
}

// SplitCommand splits a manifest command line into program and
// arguments. Worker commands are plain npm invocations, so whitespace
// splitting is sufficient; there is no shell quoting.
func SplitCommand(cmdline string) (string, []string, error) {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return parts[0], parts[1:], nil
}
