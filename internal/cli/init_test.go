package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
)

func TestRunInit_UserMode(t *testing.T) {
	env := setupCLI(t)

	out := env.mustRun(t, "init-config", "--with-catalogue")
	if !strings.Contains(out, "icsrisk init complete") {
		t.Errorf("unexpected output: %s", out)
	}

	configDir := filepath.Join(env.dir, ".icsrisk")
	data, err := os.ReadFile(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if !strings.Contains(string(data), "max_iterations") {
		t.Error("config.yaml missing engine section")
	}

	// The written files must load back.
	if _, err := config.Load(filepath.Join(configDir, "config.yaml")); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}
	if _, err := iec62443.LoadCatalogue(filepath.Join(configDir, "catalogue.yaml")); err != nil {
		t.Errorf("generated catalogue does not load: %v", err)
	}
}

func TestRunInit_AliasAndNoOverwriteWithoutForce(t *testing.T) {
	env := setupCLI(t)

	configDir := filepath.Join(env.dir, ".icsrisk")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := "# sentinel content\n"
	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	out := env.mustRun(t, "init")
	if !strings.Contains(out, "already exist") {
		t.Errorf("expected already-exists notice, got: %s", out)
	}
	data, _ := os.ReadFile(path)
	if string(data) != sentinel {
		t.Error("config.yaml was overwritten without --force")
	}

	env.mustRun(t, "init-config", "--force")
	data, _ = os.ReadFile(path)
	if string(data) == sentinel {
		t.Error("config.yaml was NOT overwritten with --force")
	}
}

func TestRunInit_InvalidMode(t *testing.T) {
	env := setupCLI(t)
	_, err := env.run(t, "init-config", "--mode", "invalid")
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	defer func() { initMode = "user" }()

	tests := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{"user", filepath.Join(tmpDir, ".icsrisk"), false},
		{"system", "/etc/icsrisk", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		initMode = tt.mode
		got, err := initConfigDir()
		if tt.wantErr {
			if err == nil {
				t.Errorf("mode=%q: expected error", tt.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("mode=%q: unexpected error: %v", tt.mode, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mode=%q: got %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestWriteIfMissing(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")
	defer func() { initForce = false }()

	initForce = false
	wrote, err := writeIfMissing(path, "hello")
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if !wrote {
		t.Error("first write should return true")
	}

	wrote, err = writeIfMissing(path, "world")
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if wrote {
		t.Error("second write should return false without force")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("content changed without force: %q", string(data))
	}

	initForce = true
	wrote, err = writeIfMissing(path, "world")
	if err != nil {
		t.Fatalf("force write failed: %v", err)
	}
	if !wrote {
		t.Error("force write should return true")
	}
	data, _ = os.ReadFile(path)
	if string(data) != "world" {
		t.Errorf("force write didn't overwrite: %q", string(data))
	}
}
