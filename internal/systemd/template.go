// Package systemd installs the icsrisk@.service template unit.
package systemd

import (
	"fmt"
	"os"
	"path/filepath"
)

// UnitName is the template unit file name. The instance is the long-running
// subcommand: icsrisk@serve or icsrisk@daemon.
const UnitName = "icsrisk@.service"

// UnitDir is where Install writes the unit.
var UnitDir = "/etc/systemd/system"

// Instances are the subcommands the template can run.
var Instances = []string{"serve", "daemon"}

// Template returns the unit for binary reading configPath. HOME points at the
// state directory so ~/ paths in the config resolve under /var/lib/icsrisk.
func Template(binary, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=icsrisk %%i
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
StateDirectory=icsrisk
Environment=HOME=/var/lib/icsrisk
ExecStart=%s %%i --config %s --log-level info
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true

[Install]
WantedBy=multi-user.target
`, binary, configPath)
}

// Install writes the template unit to UnitDir and returns its path.
func Install(binary, configPath string) (string, error) {
	if !filepath.IsAbs(binary) || !filepath.IsAbs(configPath) {
		return "", fmt.Errorf("unit paths must be absolute: %q, %q", binary, configPath)
	}
	path := filepath.Join(UnitDir, UnitName)
	if err := os.WriteFile(path, []byte(Template(binary, configPath)), 0o644); err != nil {
		return "", fmt.Errorf("write systemd unit: %w", err)
	}
	return path, nil
}
