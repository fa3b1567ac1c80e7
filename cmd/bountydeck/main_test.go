package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poidh-tools/bountydeck/pkg/manifest"
)

func TestInitCommandGeneratesManifest(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir() + "/bountydeck.yaml"

	rootCmd.SetArgs([]string{"init", "--root", root, "--output", out})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	m, err := manifest.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if m.Root != root {
		t.Errorf("root = %s, want %s", m.Root, root)
	}
	if len(m.Bounties) == 0 {
		t.Error("generated manifest has no bounty presets")
	}
	if errs := manifest.Validate(m); len(errs) > 0 {
		t.Errorf("generated manifest invalid: %v", errs)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "agent:monitor") {
		t.Error("generated manifest missing monitor command")
	}
}

func TestEnsureDaemonReportsSpawnFailureFast(t *testing.T) {
	// Empty PATH makes the daemon binary unresolvable; the spawn
	// failure must surface immediately instead of burning the full
	// socket poll.
	t.Setenv("PATH", t.TempDir())
	old := socketPath
	socketPath = filepath.Join(t.TempDir(), "absent.sock")
	defer func() { socketPath = old }()

	start := time.Now()
	ensureDaemon()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ensureDaemon took %v after a failed spawn", elapsed)
	}
}

func TestVersionCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
}
