package systemd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTemplate(t *testing.T) {
	tmpl := Template("/usr/local/bin/icsrisk", "/etc/icsrisk/config.yaml")

	for _, section := range []string{"[Unit]", "[Service]", "[Install]"} {
		if !strings.Contains(tmpl, section) {
			t.Errorf("template missing section %s", section)
		}
	}

	if !strings.Contains(tmpl, "ExecStart=/usr/local/bin/icsrisk %i --config /etc/icsrisk/config.yaml") {
		t.Errorf("template has wrong ExecStart:\n%s", tmpl)
	}
	if strings.Contains(tmpl, "%%") {
		t.Error("template contains unexpanded %%")
	}

	for _, directive := range []string{"NoNewPrivileges=true", "PrivateTmp=true", "ProtectSystem=strict", "StateDirectory=icsrisk"} {
		if !strings.Contains(tmpl, directive) {
			t.Errorf("template missing directive %s", directive)
		}
	}
}

func TestInstall(t *testing.T) {
	old := UnitDir
	UnitDir = t.TempDir()
	defer func() { UnitDir = old }()

	path, err := Install("/usr/local/bin/icsrisk", "/etc/icsrisk/config.yaml")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if path != filepath.Join(UnitDir, UnitName) {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Description=icsrisk %i") {
		t.Errorf("unexpected unit:\n%s", data)
	}
}

func TestInstallRejectsRelativePaths(t *testing.T) {
	old := UnitDir
	UnitDir = t.TempDir()
	defer func() { UnitDir = old }()

	if _, err := Install("icsrisk", "/etc/icsrisk/config.yaml"); err == nil {
		t.Error("expected error for relative binary path")
	}
	if _, err := Install("/usr/local/bin/icsrisk", "config.yaml"); err == nil {
		t.Error("expected error for relative config path")
	}
}
