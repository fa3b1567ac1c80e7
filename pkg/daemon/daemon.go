// Package daemon is the long-running bountydeckd process: it owns the
// supervisor and the worker's manifest, serves requests over the Unix
// socket, and pushes job output, bot log, and audit trail updates to
// every connected panel.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/poidh-tools/bountydeck/internal/buildinfo"
	"github.com/poidh-tools/bountydeck/pkg/audit"
	"github.com/poidh-tools/bountydeck/pkg/core"
	"github.com/poidh-tools/bountydeck/pkg/envfile"
	"github.com/poidh-tools/bountydeck/pkg/manifest"
	"github.com/poidh-tools/bountydeck/pkg/supervise"
	"github.com/poidh-tools/bountydeck/pkg/tail"
	"github.com/poidh-tools/bountydeck/pkg/transport/uds"
	"github.com/poidh-tools/bountydeck/pkg/wallet"
)

// defaultOutputLines bounds JobOutput responses when the client does
// not say how much it wants.
const defaultOutputLines = 100

// rpcURLKeys are checked in order when resolving the chain endpoint
// from the worker's .env.
var rpcURLKeys = []string{"RPC_URL", "BASE_RPC_URL"}

// Daemon wires the supervisor, manifest, and transport together.
type Daemon struct {
	server *uds.Server
	sup    *supervise.Supervisor
	wallet *wallet.Manager
	logger *slog.Logger

	httpClient *http.Client

	mu       sync.RWMutex
	manifest *manifest.Manifest
}

// New creates a daemon serving on socketPath for the worker described
// by m.
func New(socketPath string, m *manifest.Manifest, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	sup := supervise.New(logger)
	d := &Daemon{
		server:   uds.NewServer(socketPath, logger),
		sup:      sup,
		wallet:   wallet.NewManager(sup, logger),
		logger:   logger,
		manifest: m,
	}
	d.registerHandlers()
	return d
}

// Manifest returns the currently loaded manifest.
func (d *Daemon) Manifest() *manifest.Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manifest
}

// Supervisor exposes the job supervisor, for the poll loop.
func (d *Daemon) Supervisor() *supervise.Supervisor { return d.sup }

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server { return d.server }

// Run starts the daemon and blocks until the context is cancelled.
// Job status transitions are forwarded to clients for as long as it
// runs.
func (d *Daemon) Run(ctx context.Context) error {
	go d.forwardJobEvents(ctx)
	return d.server.Start(ctx)
}

// Shutdown stops the transport and cancels every running job.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.server.Shutdown()
	d.sup.Shutdown(ctx)
}

func (d *Daemon) forwardJobEvents(ctx context.Context) {
	events := d.sup.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-events:
			evt, err := uds.NewEvent(uds.EventJobStatus, snap)
			if err != nil {
				d.logger.Error("encode job event", "err", err)
				continue
			}
			d.server.Broadcast(evt)
		}
	}
}

// forwardOutput relays one job's output stream to all clients. The
// subscription channel closes when the job's pipes close.
func (d *Daemon) forwardOutput(ch <-chan core.OutputLine) {
	for line := range ch {
		evt, err := uds.NewEvent(uds.EventJobOutput, line)
		if err != nil {
			d.logger.Error("encode output event", "err", err)
			continue
		}
		d.server.Broadcast(evt)
	}
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodLaunch, d.handleLaunch)
	d.server.Handle(uds.MethodCancel, d.handleCancel)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodListJobs, d.handleListJobs)
	d.server.Handle(uds.MethodListBounties, d.handleListBounties)
	d.server.Handle(uds.MethodJobOutput, d.handleJobOutput)
	d.server.Handle(uds.MethodTailLogs, d.handleTailLogs)
	d.server.Handle(uds.MethodAuditRecent, d.handleAuditRecent)
	d.server.Handle(uds.MethodConfigGet, d.handleConfigGet)
	d.server.Handle(uds.MethodConfigSet, d.handleConfigSet)
	d.server.Handle(uds.MethodWalletCreate, d.handleWalletCreate)
	d.server.Handle(uds.MethodWalletBalance, d.handleWalletBalance)
	d.server.Handle(uds.MethodHealth, d.handleHealth)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleLaunch(_ context.Context, msg uds.Message) (any, error) {
	var req uds.LaunchRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	m := d.Manifest()
	cmdline := req.Command
	slot := req.Slot

	if req.Bounty != "" {
		b, ok := m.Bounties[req.Bounty]
		switch {
		case ok:
			cmdline = b.Command
		case req.Bounty == "monitor" && m.Monitor != "":
			// The monitor is launchable like a bounty but lives
			// outside the preset table.
			cmdline = m.Monitor
		default:
			return nil, fmt.Errorf("unknown bounty: %s", req.Bounty)
		}
		if slot == "" {
			slot = req.Bounty
		}
	}
	if cmdline == "" {
		return nil, fmt.Errorf("either bounty or command is required")
	}
	if slot == "" {
		slot = "run"
	}

	program, args, err := supervise.SplitCommand(cmdline)
	if err != nil {
		return nil, err
	}

	opts := supervise.LaunchOptions{}
	if req.TimeoutSec > 0 {
		opts.Timeout = time.Duration(req.TimeoutSec) * time.Second
	}

	h, err := d.sup.Launch(slot, program, args, m.Root, opts)
	if err != nil {
		return nil, err
	}
	go d.forwardOutput(h.Subscribe())

	return uds.LaunchResponse{Job: h.Snapshot()}, nil
}

func (d *Daemon) handleCancel(_ context.Context, msg uds.Message) (any, error) {
	var req uds.CancelRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Slot == "" {
		return nil, fmt.Errorf("slot is required")
	}
	if err := d.sup.Cancel(req.Slot, !req.Force); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleStatus(_ context.Context, msg uds.Message) (any, error) {
	var req uds.StatusRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	job, err := d.sup.Status(req.Slot)
	if err != nil {
		return nil, err
	}
	return uds.StatusResponse{Job: job}, nil
}

func (d *Daemon) handleListJobs(_ context.Context, _ uds.Message) (any, error) {
	return uds.ListJobsResponse{Jobs: d.sup.Jobs()}, nil
}

func (d *Daemon) handleListBounties(_ context.Context, _ uds.Message) (any, error) {
	m := d.Manifest()
	names := make([]string, 0, len(m.Bounties))
	for name := range m.Bounties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]uds.BountyInfo, 0, len(names))
	for _, name := range names {
		b := m.Bounties[name]
		out = append(out, uds.BountyInfo{
			Name:    name,
			Command: b.Command,
			Title:   b.Title,
			Reward:  b.Reward,
			Chain:   b.Chain,
		})
	}
	return uds.ListBountiesResponse{Bounties: out}, nil
}

func (d *Daemon) handleJobOutput(_ context.Context, msg uds.Message) (any, error) {
	var req uds.JobOutputRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	n := req.Lines
	if n <= 0 {
		n = defaultOutputLines
	}
	lines, err := d.sup.RecentOutput(req.Slot, n)
	if err != nil {
		return nil, err
	}
	return uds.JobOutputResponse{Lines: lines}, nil
}

func (d *Daemon) handleTailLogs(_ context.Context, msg uds.Message) (any, error) {
	req := uds.TailLogsRequest{Lines: defaultOutputLines}
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}
	if req.Lines <= 0 {
		req.Lines = defaultOutputLines
	}

	path := d.Manifest().BotLogPath()
	// A throwaway tailer keeps this read from disturbing the poll
	// loop's cursor.
	lines, err := tail.New(path, d.logger).LastN(req.Lines)
	if err != nil {
		return nil, err
	}
	return uds.TailLogsResponse{Path: path, Lines: lines}, nil
}

func (d *Daemon) handleAuditRecent(_ context.Context, msg uds.Message) (any, error) {
	req := uds.AuditRecentRequest{}
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}

	entries, err := audit.NewReader(d.Manifest().AuditPath()).Recent(req.Limit)
	if err != nil {
		return nil, err
	}
	return uds.AuditRecentResponse{Entries: entries}, nil
}

func (d *Daemon) handleConfigGet(_ context.Context, _ uds.Message) (any, error) {
	path := d.Manifest().EnvPath()
	f, err := envfile.Load(path)
	if err != nil {
		return nil, err
	}

	entries := make([]uds.ConfigEntry, 0, len(f.Keys()))
	for _, key := range f.Keys() {
		val, _ := f.Get(key)
		entries = append(entries, uds.ConfigEntry{Key: key, Value: envfile.MaskSecret(key, val)})
	}
	return uds.ConfigGetResponse{Path: path, Entries: entries}, nil
}

func (d *Daemon) handleConfigSet(_ context.Context, msg uds.Message) (any, error) {
	var req uds.ConfigSetRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	path := d.Manifest().EnvPath()
	f, err := envfile.Load(path)
	if err != nil {
		return nil, err
	}
	f.Set(req.Key, req.Value)
	if err := f.Save(); err != nil {
		return nil, err
	}

	d.logger.Info("config key written", "key", req.Key, "path", path)
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleWalletCreate(ctx context.Context, _ uds.Message) (any, error) {
	m := d.Manifest()
	if m.Wallet.Create == "" {
		return nil, fmt.Errorf("no wallet create command configured")
	}
	creds, output, err := d.wallet.Create(ctx, m.Wallet.Create, m.Root)
	if err != nil {
		return nil, err
	}
	return uds.WalletCreateResponse{
		Address:    creds.Address,
		PrivateKey: creds.PrivateKey,
		Output:     output,
	}, nil
}

func (d *Daemon) handleWalletBalance(ctx context.Context, _ uds.Message) (any, error) {
	m := d.Manifest()
	if m.Wallet.Balance == "" {
		return nil, fmt.Errorf("no wallet balance command configured")
	}
	output, err := d.wallet.Balance(ctx, m.Wallet.Balance, m.Root)
	if err != nil {
		return nil, err
	}
	return uds.WalletBalanceResponse{Output: output}, nil
}

func (d *Daemon) handleHealth(ctx context.Context, _ uds.Message) (any, error) {
	f, err := envfile.Load(d.Manifest().EnvPath())
	if err != nil {
		return nil, err
	}

	var url string
	for _, key := range rpcURLKeys {
		if v, ok := f.Get(key); ok && v != "" {
			url = v
			break
		}
	}
	if url == "" {
		return nil, fmt.Errorf("no RPC URL in worker env (looked for %v)", rpcURLKeys)
	}

	id, err := wallet.Probe(ctx, d.httpClient, url)
	if err != nil {
		return nil, err
	}
	return uds.HealthResponse{RPCURL: url, ChainID: id}, nil
}
