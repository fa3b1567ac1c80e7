// Package wallet drives the worker's wallet npm scripts through the
// supervisor and probes chain RPC reachability.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/poidh-tools/bountydeck/pkg/supervise"
)

// Wallet scripts run as one-shot jobs in reserved slots so they show up
// in the job table like any other worker run.
const (
	SlotCreate  = "wallet-create"
	SlotBalance = "wallet-balance"
)

// runTimeout bounds a wallet script run. npm startup plus one RPC round
// trip is seconds, not minutes.
const runTimeout = 2 * time.Minute

// historyDepth must cover the full output of a wallet script.
const historyDepth = 512

// Credentials is the key pair printed by the worker's wallet:create
// script.
type Credentials struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Manager runs wallet scripts to completion and captures their output.
type Manager struct {
	sup    *supervise.Supervisor
	logger *slog.Logger
}

// NewManager wires a manager onto an existing supervisor.
func NewManager(sup *supervise.Supervisor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sup: sup, logger: logger}
}

// Create runs the wallet creation script and extracts the generated key
// pair from its output. The raw output lines are returned alongside so
// callers can display the script's own warnings verbatim.
func (m *Manager) Create(ctx context.Context, cmdline, dir string) (Credentials, []string, error) {
	lines, err := m.run(ctx, SlotCreate, cmdline, dir)
	if err != nil {
		return Credentials{}, lines, err
	}
	creds, err := ParseCredentials(lines)
	return creds, lines, err
}

// Balance runs the balance script and returns its output lines.
func (m *Manager) Balance(ctx context.Context, cmdline, dir string) ([]string, error) {
	return m.run(ctx, SlotBalance, cmdline, dir)
}

func (m *Manager) run(ctx context.Context, slot, cmdline, dir string) ([]string, error) {
	program, args, err := supervise.SplitCommand(cmdline)
	if err != nil {
		return nil, fmt.Errorf("wallet command: %w", err)
	}

	h, err := m.sup.Launch(slot, program, args, dir, supervise.LaunchOptions{Timeout: runTimeout})
	if err != nil {
		return nil, err
	}

	final, err := h.Wait(ctx)
	if err != nil {
		// The caller gave up; do not leave the script running.
		m.sup.Cancel(slot, false)
		return nil, err
	}

	raw := h.Recent(historyDepth)
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, l.Text)
	}

	if !final.Succeeded() {
		m.logger.Warn("wallet script failed", "slot", slot, "state", final.State, "exit_code", final.ExitCode)
		return lines, fmt.Errorf("wallet script %q: state %s", cmdline, final.State)
	}
	return lines, nil
}

var (
	privateKeyRe = regexp.MustCompile(`0x[0-9a-fA-F]{64}\b`)
	addressRe    = regexp.MustCompile(`0x[0-9a-fA-F]{40}\b`)
)

// ParseCredentials pulls the address and private key out of the wallet
// script's output. The script labels both values, but the labels have
// drifted across worker versions, so matching falls back to bare hex
// tokens of the right width.
func ParseCredentials(lines []string) (Credentials, error) {
	var creds Credentials
	for _, line := range lines {
		if creds.PrivateKey == "" {
			if key := privateKeyRe.FindString(line); key != "" {
				creds.PrivateKey = key
				continue
			}
		}
		if creds.Address == "" {
			if addr := addressRe.FindString(line); addr != "" {
				creds.Address = addr
			}
		}
	}
	if creds.Address == "" || creds.PrivateKey == "" {
		return Credentials{}, fmt.Errorf("wallet output missing %s", missingFields(creds))
	}
	return creds, nil
}

func missingFields(c Credentials) string {
	var missing []string
	if c.Address == "" {
		missing = append(missing, "address")
	}
	if c.PrivateKey == "" {
		missing = append(missing, "private key")
	}
	return strings.Join(missing, " and ")
}
