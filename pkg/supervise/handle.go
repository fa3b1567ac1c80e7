package supervise

import (
	"context"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

// Handle is returned by Launch. It lets the caller subscribe to output
// and await completion without touching the slot table.
type Handle struct {
	job *job
}

// Slot returns the slot the job runs in.
func (h *Handle) Slot() string { return h.job.snapshot().Slot }

// Snapshot returns the job's current state.
func (h *Handle) Snapshot() core.Job { return h.job.snapshot() }

// Subscribe attaches to the live output stream. Multiple subscribers
// each receive every line while they keep draining; one that falls a
// full buffer behind is cut off with a channel close.
func (h *Handle) Subscribe() <-chan core.OutputLine {
	return h.job.streamer.subscribe()
}

// Recent returns up to n of the most recent output lines.
func (h *Handle) Recent(n int) []core.OutputLine {
	return h.job.streamer.history(n)
}

// Done closes once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.job.done }

// Wait blocks until the job finishes or ctx is cancelled, then returns
// the final snapshot.
func (h *Handle) Wait(ctx context.Context) (core.Job, error) {
	select {
	case <-h.job.done:
		return h.job.snapshot(), nil
	case <-ctx.Done():
		return h.job.snapshot(), ctx.Err()
	}
}
