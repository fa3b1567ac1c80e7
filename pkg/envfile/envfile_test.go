package envfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Keys()) != 0 {
		t.Errorf("expected empty file, got keys %v", f.Keys())
	}
}

func TestLoadParsesAssignments(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# worker config
CHAIN_ID=8453

BASE_RPC_URL="https://mainnet.base.org"
BOT_PRIVATE_KEY='0xabc'
BROKEN LINE WITHOUT EQUALS
POLLING_INTERVAL = 30
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"CHAIN_ID":         "8453",
		"BASE_RPC_URL":     "https://mainnet.base.org",
		"BOT_PRIVATE_KEY":  "0xabc",
		"POLLING_INTERVAL": "30",
	}
	for key, wantVal := range want {
		got, ok := f.Get(key)
		if !ok || got != wantVal {
			t.Errorf("%s = %q (present=%v), want %q", key, got, ok, wantVal)
		}
	}
	if !reflect.DeepEqual(f.Keys(), []string{"CHAIN_ID", "BASE_RPC_URL", "BOT_PRIVATE_KEY", "POLLING_INTERVAL"}) {
		t.Errorf("key order = %v", f.Keys())
	}
}

func TestSetAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Set("CHAIN_ID", "8453")
	f.Set("LOG_LEVEL", "info")
	f.Set("CHAIN_ID", "42161") // update keeps position
	if err := f.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := reloaded.Get("CHAIN_ID"); v != "42161" {
		t.Errorf("CHAIN_ID = %q, want 42161", v)
	}
	if !reflect.DeepEqual(reloaded.Keys(), []string{"CHAIN_ID", "LOG_LEVEL"}) {
		t.Errorf("key order = %v", reloaded.Keys())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"BOT_PRIVATE_KEY", "0xdeadbeefcafe", "0xde..."},
		{"OPENAI_API_KEY", "sk-abc123", "sk-a..."},
		{"GITHUB_TOKEN", "ghp_xyz", "ghp_..."},
		{"CHAIN_ID", "8453", "8453"},
		{"BOT_PRIVATE_KEY", "", ""},
		{"SECRET", "ab", "..."},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.key, tt.value); got != tt.want {
			t.Errorf("MaskSecret(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}
