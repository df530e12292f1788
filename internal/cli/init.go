package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/systemd"
)

var (
	initMode           string
	initForce          bool
	initWithCatalogue  bool
	initInstallSystemd bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.icsrisk) or system (/etc/icsrisk)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initWithCatalogue, "with-catalogue", false, "Also write the built-in requirement catalogue for editing")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the icsrisk@.service template unit (requires root)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:     "init-config",
	Aliases: []string{"init"},
	Short:   "Write a default configuration file",
	Long: `Creates the icsrisk config directory with a commented config.yaml.

User mode (default):  writes to ~/.icsrisk/
System mode:          writes to /etc/icsrisk/ (requires root)

With --with-catalogue the built-in IEC 62443-3-3 catalogue is written as
catalogue.yaml. Point catalogue.path at it to customise requirements.

With --install-systemd: installs an icsrisk@.service template so the
server or the batch daemon can run as a service:
  systemctl enable --now icsrisk@serve
  systemctl enable --now icsrisk@daemon`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	configFile := filepath.Join(configDir, "config.yaml")
	if wrote, err := writeIfMissing(configFile, config.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, configFile)
	}

	if initWithCatalogue {
		catPath := filepath.Join(configDir, "catalogue.yaml")
		if wrote, err := writeIfMissing(catPath, string(iec62443.DefaultCatalogueYAML())); err != nil {
			return err
		} else if wrote {
			created = append(created, catPath)
		}
	}

	if initInstallSystemd {
		unitPath, err := installSystemdUnit(configFile)
		if err != nil {
			return err
		}
		created = append(created, unitPath)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "icsrisk init complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Try:")
	fmt.Fprintln(out, "  icsrisk simulate --impact 8 --likelihood 0.4 --mitigation 0.3")
	if initInstallSystemd {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Enable a service:")
		for _, inst := range systemd.Instances {
			fmt.Fprintf(out, "  sudo systemctl enable --now icsrisk@%s\n", inst)
		}
	}
	return nil
}

func installSystemdUnit(configFile string) (string, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("--install-systemd is only supported on Linux")
	}
	if os.Geteuid() != 0 {
		return "", fmt.Errorf("--install-systemd requires root; run with sudo")
	}
	binary, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate icsrisk binary: %w", err)
	}
	configFile, err = filepath.Abs(configFile)
	if err != nil {
		return "", err
	}

	unitPath, err := systemd.Install(binary, configFile)
	if err != nil {
		return "", err
	}
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		logger.Sugar().Warnf("systemctl daemon-reload failed: %v", err)
	}
	return unitPath, nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/icsrisk", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".icsrisk"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
