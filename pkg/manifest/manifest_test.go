package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	m := Default("/opt/poidh-bot")
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("default manifest should validate, got %v", errs)
	}
	if len(m.Bounties) != 6 {
		t.Errorf("got %d bounty presets, want 6", len(m.Bounties))
	}
	if m.Monitor == "" {
		t.Error("default manifest must define a monitor command")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bountydeck.yaml")
	m := Default("/opt/poidh-bot")
	m.Bounties["sunset"] = Bounty{Command: "npm run agent:custom", Title: "Best Sunset Photo", Reward: 0.01, Chain: "base"}

	if err := Save(m, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FilePath != path {
		t.Errorf("FilePath = %q, want %q", loaded.FilePath, path)
	}
	if loaded.Root != "/opt/poidh-bot" {
		t.Errorf("root = %q", loaded.Root)
	}
	b, ok := loaded.Bounties["sunset"]
	if !ok || b.Reward != 0.01 || b.Chain != "base" {
		t.Errorf("sunset bounty = %+v (present=%v)", b, ok)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bountydeck.yaml")
	if err := os.WriteFile(path, []byte("version: [1,\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateErrors(t *testing.T) {
	m := &Manifest{
		Version: 2,
		Poll:    Poll{IntervalSec: -1},
		Bounties: map[string]Bounty{
			"bad": {Command: "", Reward: -1},
		},
	}
	// version, root, logs.bot, logs.audit, poll interval, bounty
	// command, bounty reward.
	errs := Validate(m)
	if len(errs) != 7 {
		t.Errorf("got %d errors, want 7: %v", len(errs), errs)
	}
}

func TestPathResolution(t *testing.T) {
	m := Default("/opt/poidh-bot")

	if got := m.BotLogPath(); got != "/opt/poidh-bot/logs/bot.log" {
		t.Errorf("bot log path = %q", got)
	}
	if got := m.AuditPath(); got != "/opt/poidh-bot/logs/audit-trail.json" {
		t.Errorf("audit path = %q", got)
	}
	if got := m.EnvPath(); got != "/opt/poidh-bot/.env" {
		t.Errorf("env path = %q", got)
	}

	m.Logs.Bot = "/var/log/bot.log"
	if got := m.BotLogPath(); got != "/var/log/bot.log" {
		t.Errorf("absolute path should pass through, got %q", got)
	}
}

func TestPollIntervalDefault(t *testing.T) {
	m := &Manifest{}
	if got := m.PollInterval(); got != DefaultPollInterval {
		t.Errorf("PollInterval = %d, want %d", got, DefaultPollInterval)
	}
	m.Poll.IntervalSec = 10
	if got := m.PollInterval(); got != 10 {
		t.Errorf("PollInterval = %d, want 10", got)
	}
}
