// Package manifest defines bountydeck.yaml, the deck-side description
// of the worker project: where it lives, which files it writes, and
// the command lines behind each bounty preset.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest represents a bountydeck.yaml configuration file.
type Manifest struct {
	Version int    `yaml:"version" json:"version"`
	Project string `yaml:"project" json:"project"`
	// Root is the worker checkout; commands run with this as cwd.
	Root     string            `yaml:"root" json:"root"`
	EnvFile  string            `yaml:"env_file,omitempty" json:"env_file,omitempty"`
	Logs     Logs              `yaml:"logs" json:"logs"`
	Poll     Poll              `yaml:"poll,omitempty" json:"poll,omitempty"`
	Monitor  string            `yaml:"monitor,omitempty" json:"monitor,omitempty"`
	Wallet   WalletCommands    `yaml:"wallet,omitempty" json:"wallet,omitempty"`
	Bounties map[string]Bounty `yaml:"bounties" json:"bounties"`

	// FilePath is where the manifest was loaded from; not serialized.
	FilePath string `yaml:"-" json:"-"`
}

// Logs names the files the worker appends to.
type Logs struct {
	// Bot is the append-only text log.
	Bot string `yaml:"bot" json:"bot"`
	// Audit is the JSON audit-trail document, rewritten wholesale by
	// the worker.
	Audit string `yaml:"audit" json:"audit"`
}

// Poll controls the dashboard refresh cadence.
type Poll struct {
	IntervalSec int `yaml:"interval_sec,omitempty" json:"interval_sec,omitempty"`
}

// WalletCommands are the worker's wallet npm scripts.
type WalletCommands struct {
	Create  string `yaml:"create,omitempty" json:"create,omitempty"`
	Balance string `yaml:"balance,omitempty" json:"balance,omitempty"`
}

// Bounty is one launchable worker preset.
type Bounty struct {
	Command string  `yaml:"command" json:"command"`
	Title   string  `yaml:"title,omitempty" json:"title,omitempty"`
	Reward  float64 `yaml:"reward,omitempty" json:"reward,omitempty"`
	Chain   string  `yaml:"chain,omitempty" json:"chain,omitempty"`
}

// DefaultPollInterval is used when poll.interval_sec is absent.
const DefaultPollInterval = 2

// Default returns a manifest for a stock POIDH worker checkout at
// root, with the worker's built-in bounty presets.
func Default(root string) *Manifest {
	return &Manifest{
		Version: 1,
		Project: filepath.Base(root),
		Root:    root,
		EnvFile: ".env",
		Logs: Logs{
			Bot:   "logs/bot.log",
			Audit: "logs/audit-trail.json",
		},
		Poll:    Poll{IntervalSec: DefaultPollInterval},
		Monitor: "npm run agent:monitor",
		Wallet: WalletCommands{
			Create:  "npm run wallet:create",
			Balance: "npm run wallet:balance",
		},
		Bounties: map[string]Bounty{
			"outside":     {Command: "npm run agent:outside", Title: "Prove You're Outside Right Now"},
			"handwritten": {Command: "npm run agent:handwritten", Title: "Handwritten Date Challenge"},
			"meal":        {Command: "npm run agent:meal", Title: "Show Your Current Meal"},
			"tower":       {Command: "npm run agent:tower", Title: "Creative Object Tower Challenge"},
			"shadow":      {Command: "npm run agent:shadow", Title: "Creative Shadow Photography"},
			"animal":      {Command: "npm run agent:animal", Title: "Best Animal Photo"},
		},
	}
}

// Load reads and decodes a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.FilePath = path
	return &m, nil
}

// Save writes the manifest to path.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	m.FilePath = path
	return nil
}

// PollInterval returns the configured refresh cadence with the default
// applied.
func (m *Manifest) PollInterval() int {
	if m.Poll.IntervalSec > 0 {
		return m.Poll.IntervalSec
	}
	return DefaultPollInterval
}

// BotLogPath resolves the bot log relative to the worker root.
func (m *Manifest) BotLogPath() string {
	return m.resolve(m.Logs.Bot)
}

// AuditPath resolves the audit document relative to the worker root.
func (m *Manifest) AuditPath() string {
	return m.resolve(m.Logs.Audit)
}

// EnvPath resolves the worker's .env file.
func (m *Manifest) EnvPath() string {
	env := m.EnvFile
	if env == "" {
		env = ".env"
	}
	return m.resolve(env)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Root, p)
}
