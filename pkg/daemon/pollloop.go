package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/poidh-tools/bountydeck/pkg/audit"
	"github.com/poidh-tools/bountydeck/pkg/supervise"
	"github.com/poidh-tools/bountydeck/pkg/tail"
	"github.com/poidh-tools/bountydeck/pkg/transport/uds"
)

// broadcaster is the slice of the transport the poll loop needs.
type broadcaster interface {
	Broadcast(msg uds.Message)
}

// PollLoop watches the worker's bot log and audit trail and pushes
// new content to connected clients every interval. It also reaps
// acknowledged finished jobs so the slot table does not grow without
// bound.
type PollLoop struct {
	tailer   *tail.Tailer
	auditor  *audit.Reader
	sup      *supervise.Supervisor
	sink     broadcaster
	interval time.Duration
	logger   *slog.Logger

	// seen is how many audit entries the last poll observed; only the
	// entries beyond it are broadcast.
	seen     int
	auditErr bool
}

// NewPollLoop creates a poll loop for the daemon's worker files.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	if logger == nil {
		logger = slog.Default()
	}
	m := d.Manifest()
	return &PollLoop{
		tailer:   tail.New(m.BotLogPath(), logger),
		auditor:  audit.NewReader(m.AuditPath()),
		sup:      d.Supervisor(),
		sink:     d.Server(),
		interval: interval,
		logger:   logger,
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick()
		}
	}
}

func (pl *PollLoop) tick() {
	pl.pollLog()
	pl.pollAudit()
	pl.sup.Reap()
}

func (pl *PollLoop) pollLog() {
	lines, err := pl.tailer.Poll()
	if err != nil {
		pl.logger.Error("bot log poll error", "path", pl.tailer.Cursor().Path, "err", err)
		return
	}
	if len(lines) == 0 {
		return
	}

	evt, err := uds.NewEvent(uds.EventLogsBatch, uds.LogsBatchEvent{
		Path:  pl.tailer.Cursor().Path,
		Lines: lines,
	})
	if err != nil {
		pl.logger.Error("encode logs batch", "err", err)
		return
	}
	pl.sink.Broadcast(evt)
}

func (pl *PollLoop) pollAudit() {
	entries, err := pl.auditor.Recent(0)
	if err != nil {
		// The worker rewrites the document wholesale, so transient
		// parse failures are expected mid-write. Log the first one,
		// then stay quiet until it recovers.
		if !pl.auditErr {
			pl.logger.Warn("audit trail unavailable", "err", err)
			pl.auditErr = true
		}
		return
	}
	pl.auditErr = false

	if len(entries) < pl.seen {
		// Truncated or replaced; treat the whole document as new.
		pl.seen = 0
	}
	if len(entries) == pl.seen {
		return
	}

	fresh := entries[pl.seen:]
	pl.seen = len(entries)

	evt, err := uds.NewEvent(uds.EventAuditBatch, uds.AuditBatchEvent{Entries: fresh})
	if err != nil {
		pl.logger.Error("encode audit batch", "err", err)
		return
	}
	pl.sink.Broadcast(evt)
}
