package service

import (
	"os"
	"strings"
	"testing"
)

func TestUnitContents(t *testing.T) {
	got := UnitContents("/usr/local/bin/bountydeckd", "/home/dev/worker/bountydeck.yaml")

	if !strings.Contains(got, "ExecStart=/usr/local/bin/bountydeckd --manifest /home/dev/worker/bountydeck.yaml") {
		t.Error("unit file missing ExecStart with binary and manifest path")
	}
	if !strings.Contains(got, "Type=notify") {
		t.Error("unit file missing Type=notify")
	}
	if !strings.Contains(got, "Restart=on-failure") {
		t.Error("unit file missing Restart=on-failure")
	}
	if !strings.Contains(got, "[Install]") {
		t.Error("unit file missing [Install] section")
	}
}

func TestUnitContentsWithoutManifest(t *testing.T) {
	got := UnitContents("/usr/local/bin/bountydeckd", "")
	if !strings.Contains(got, "ExecStart=/usr/local/bin/bountydeckd\n") {
		t.Errorf("unexpected ExecStart line:\n%s", got)
	}
}

func TestUnitPath(t *testing.T) {
	path, err := UnitPath()
	if err != nil {
		t.Fatalf("UnitPath() error: %v", err)
	}
	if !strings.HasSuffix(path, "systemd/user/bountydeckd.service") {
		t.Errorf("UnitPath() = %q, want suffix systemd/user/bountydeckd.service", path)
	}
}

func TestStatusNoSocket(t *testing.T) {
	got := Status("/tmp/bountydeck-test-nonexistent.sock")
	if !strings.Contains(got, "socket: inactive") {
		t.Errorf("Status() should report inactive socket, got: %s", got)
	}
}

func TestStatusWithSocket(t *testing.T) {
	f, err := os.CreateTemp("", "bountydeck-test-*.sock")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.Close()

	got := Status(f.Name())
	if !strings.Contains(got, "socket: active") {
		t.Errorf("Status() should report active socket, got: %s", got)
	}
}
