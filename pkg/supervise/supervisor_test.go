package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func shell(script string) (string, []string) {
	return "/bin/sh", []string{"-c", script}
}

func TestLaunchStreamsLinesThenCompletes(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("sleep 0.2; echo line1; echo line2")

	h, err := s.Launch("monitor", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	lines := h.Subscribe()

	var got []core.OutputLine
	for line := range lines {
		got = append(got, line)
	}

	job, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(got), got)
	}
	if got[0].Seq != 0 || got[0].Text != "line1" {
		t.Errorf("first line = %+v, want seq 0 text line1", got[0])
	}
	if got[1].Seq != 1 || got[1].Text != "line2" {
		t.Errorf("second line = %+v, want seq 1 text line2", got[1])
	}
	if job.State != core.StateCompleted {
		t.Errorf("state = %s, want completed", job.State)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", job.ExitCode)
	}
}

func TestSlotBusyUntilTerminal(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("sleep 5")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Launch("build", prog, args, "", LaunchOptions{})
	if !errors.Is(err, core.ErrSlotBusy) {
		t.Fatalf("second launch: got %v, want ErrSlotBusy", err)
	}

	if err := s.Cancel("build", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	h2, err := s.Launch("build", "/bin/true", nil, "", LaunchOptions{})
	if err != nil {
		t.Fatalf("launch after terminal: %v", err)
	}
	if _, err := h2.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCancelEscalatesAfterGrace(t *testing.T) {
	s := New(testLogger(), WithGracePeriod(time.Second))
	// The loop ignores TERM (the signal only kills the sleep child of
	// the moment) and would otherwise run for 10 seconds.
	prog, args := shell("trap '' TERM; while true; do sleep 0.1; done")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := s.Cancel("build", true); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	job, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.State != core.StateCancelled {
		t.Errorf("state = %s, want cancelled", job.State)
	}
	if job.Cause != core.CauseCancelled {
		t.Errorf("cause = %s, want cancelled", job.Cause)
	}
	if elapsed < 900*time.Millisecond || elapsed > 4*time.Second {
		t.Errorf("cancel took %v, want roughly the 1s grace period", elapsed)
	}
}

func TestCancelForcedSkipsGrace(t *testing.T) {
	s := New(testLogger(), WithGracePeriod(10*time.Second))
	prog, args := shell("trap '' TERM; while true; do sleep 0.1; done")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := s.Cancel("build", false); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("forced cancel took %v", elapsed)
	}

	job, _ := h.Wait(context.Background())
	if job.State != core.StateCancelled {
		t.Errorf("state = %s, want cancelled", job.State)
	}
}

func TestCancelAbsentSlotIsNoop(t *testing.T) {
	s := New(testLogger())
	if err := s.Cancel("never-launched", true); err != nil {
		t.Errorf("cancel on absent slot: %v", err)
	}
}

func TestSpawnFailureLeavesSlotFree(t *testing.T) {
	s := New(testLogger())

	_, err := s.Launch("build", "/no/such/binary", nil, "", LaunchOptions{})
	var se *core.SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *core.SpawnError", err)
	}

	// No job record was created.
	if _, err := s.Status("build"); !errors.Is(err, core.ErrUnknownSlot) {
		t.Errorf("status after failed spawn: %v, want ErrUnknownSlot", err)
	}

	// The slot is free for retry.
	h, err := s.Launch("build", "/bin/true", nil, "", LaunchOptions{})
	if err != nil {
		t.Fatalf("retry launch: %v", err)
	}
	h.Wait(context.Background())
}

func TestStatusUnknownSlot(t *testing.T) {
	s := New(testLogger())
	_, err := s.Status("nope")
	if !errors.Is(err, core.ErrUnknownSlot) {
		t.Errorf("got %v, want ErrUnknownSlot", err)
	}
}

func TestNonZeroExitIsCompleted(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("exit 3")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	job, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.State != core.StateCompleted {
		t.Errorf("state = %s, want completed (exit code carries failure)", job.State)
	}
	if job.ExitCode == nil || *job.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", job.ExitCode)
	}
	if job.Succeeded() {
		t.Error("exit 3 must not report success")
	}
}

func TestTimeoutCancelsJob(t *testing.T) {
	s := New(testLogger(), WithGracePeriod(time.Second))
	prog, args := shell("sleep 10")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{Timeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != core.StateCancelled {
		t.Errorf("state = %s, want cancelled", job.State)
	}
	if job.Cause != core.CauseTimedOut {
		t.Errorf("cause = %s, want timed-out", job.Cause)
	}
}

func TestBroadcastSeqGapless(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("sleep 0.2; for i in 1 2 3 4 5; do echo out$i; echo err$i 1>&2; done")

	h, err := s.Launch("monitor", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	sub1 := h.Subscribe()
	sub2 := h.Subscribe()

	collect := func(ch <-chan core.OutputLine) []core.OutputLine {
		var out []core.OutputLine
		for line := range ch {
			out = append(out, line)
		}
		return out
	}

	done := make(chan []core.OutputLine, 1)
	go func() { done <- collect(sub2) }()
	got1 := collect(sub1)
	got2 := <-done

	for name, got := range map[string][]core.OutputLine{"sub1": got1, "sub2": got2} {
		if len(got) != 10 {
			t.Fatalf("%s: got %d lines, want 10", name, len(got))
		}
		var stdoutPrev, stderrPrev string
		for i, line := range got {
			if line.Seq != uint64(i) {
				t.Errorf("%s: line %d has seq %d (gap or reorder)", name, i, line.Seq)
			}
			// Per-stream program order is strict even though
			// cross-stream interleaving is not.
			switch line.Stream {
			case core.StreamStdout:
				if line.Text <= stdoutPrev {
					t.Errorf("%s: stdout order violated: %q after %q", name, line.Text, stdoutPrev)
				}
				stdoutPrev = line.Text
			case core.StreamStderr:
				if line.Text <= stderrPrev {
					t.Errorf("%s: stderr order violated: %q after %q", name, line.Text, stderrPrev)
				}
				stderrPrev = line.Text
			}
		}
	}

	h.Wait(context.Background())
}

func TestTrailingPartialLineEmitted(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("printf no-terminator")

	h, err := s.Launch("build", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	lines := h.Recent(0)
	if len(lines) != 1 || lines[0].Text != "no-terminator" {
		t.Errorf("recent = %v, want the unterminated final line", lines)
	}
}

func TestReapRemovesAcknowledgedTerminalJobs(t *testing.T) {
	s := New(testLogger())
	h, err := s.Launch("build", "/bin/true", nil, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	h.Wait(context.Background())

	// Not yet acknowledged: Reap must keep it.
	if n := s.Reap(); n != 0 {
		t.Errorf("reaped %d before acknowledgement, want 0", n)
	}

	if _, err := s.Status("build"); err != nil {
		t.Fatal(err)
	}
	if n := s.Reap(); n != 1 {
		t.Errorf("reaped %d after acknowledgement, want 1", n)
	}
	if _, err := s.Status("build"); !errors.Is(err, core.ErrUnknownSlot) {
		t.Errorf("status after reap: %v, want ErrUnknownSlot", err)
	}
}

func TestEventsCarryLaunchAndTerminal(t *testing.T) {
	s := New(testLogger())
	events := s.Events()

	h, err := s.Launch("monitor", "/bin/true", nil, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}

	first := <-events
	if first.State != core.StateRunning || first.Slot != "monitor" {
		t.Errorf("first event = %+v, want running monitor", first)
	}
	second := <-events
	if !second.State.Terminal() {
		t.Errorf("second event state = %s, want terminal", second.State)
	}

	h.Wait(context.Background())
}

func TestJobsSnapshotSorted(t *testing.T) {
	s := New(testLogger())
	for _, slot := range []string{"zeta", "alpha"} {
		h, err := s.Launch(slot, "/bin/true", nil, "", LaunchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		h.Wait(context.Background())
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].Slot != "alpha" || jobs[1].Slot != "zeta" {
		t.Errorf("jobs = %+v, want sorted by slot", jobs)
	}
}

func TestSplitCommand(t *testing.T) {
	prog, args, err := SplitCommand("npm run agent:monitor")
	if err != nil {
		t.Fatal(err)
	}
	if prog != "npm" || len(args) != 2 || args[0] != "run" || args[1] != "agent:monitor" {
		t.Errorf("got %q %v", prog, args)
	}

	if _, _, err := SplitCommand("   "); err == nil {
		t.Error("expected error for blank command")
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	s := New(testLogger(), WithGracePeriod(time.Second))
	prog, args := shell("sleep 10")
	h, err := s.Launch("monitor", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Shutdown(ctx)

	if snap := h.Snapshot(); !snap.State.Terminal() {
		t.Errorf("state after shutdown = %s, want terminal", snap.State)
	}
}

func TestCancelUnblockedByStalledSubscriber(t *testing.T) {
	s := New(testLogger())
	prog, args := shell("i=0; while [ $i -lt 20000 ]; do echo line$i; i=$((i+1)); done; sleep 30")

	h, err := s.Launch("noisy", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	stalled := h.Subscribe() // never drained

	// Wait until the producer has overrun the stalled subscriber's
	// buffer, so the drop path has fired.
	deadline := time.Now().Add(5 * time.Second)
	for len(h.Recent(0)) < subBuffer+10 {
		if time.Now().After(deadline) {
			t.Fatal("job produced too little output to overrun the buffer")
		}
		time.Sleep(10 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- s.Cancel("noisy", false) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("forced cancel blocked behind a stalled output subscriber")
	}

	job, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.State != core.StateCancelled {
		t.Errorf("state = %s, want cancelled", job.State)
	}

	// The stalled subscriber was cut off with a close rather than
	// wedging the stream.
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-stalled:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stalled subscriber channel never closed")
		}
	}
}

func TestOversizedLineDoesNotStallJob(t *testing.T) {
	s := New(testLogger())
	// One stdout line well past the scanner limit, then a clean exit.
	prog, args := shell("head -c 2000000 /dev/zero | tr '\\0' a; echo; exit 0")

	h, err := s.Launch("big", prog, args, "", LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("job did not finish after oversized line: %v", err)
	}
	if job.State != core.StateCompleted {
		t.Errorf("state = %s, want completed", job.State)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", job.ExitCode)
	}
}

func TestCancelRacingNaturalExitStaysCompleted(t *testing.T) {
	s := New(testLogger())
	for i := 0; i < 10; i++ {
		slot := fmt.Sprintf("quick-%d", i)
		h, err := s.Launch(slot, "/bin/true", nil, "", LaunchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		// Whichever side wins the race, a run that exited zero on its
		// own must never be reported as cancelled.
		if err := s.Cancel(slot, false); err != nil {
			t.Fatal(err)
		}
		job, err := h.Wait(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if job.ExitCode != nil && *job.ExitCode == 0 && job.State != core.StateCompleted {
			t.Fatalf("zero-exit run reported %s", job.State)
		}
	}
}
