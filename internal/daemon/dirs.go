package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// dirPerm is the permission for daemon-managed directories.
const dirPerm = 0750

// DirConfig holds the daemon directory layout.
type DirConfig struct {
	Inbox  string // incoming job files
	Outbox string // completed results
	State  string // state/{processing,failed}
}

// ProcessingDir holds jobs while they are being assessed.
func (d DirConfig) ProcessingDir() string {
	return filepath.Join(d.State, "processing")
}

// FailedDir holds job files that could not be parsed, kept for inspection.
func (d DirConfig) FailedDir() string {
	return filepath.Join(d.State, "failed")
}

// Validate requires all three directories and that they are distinct. A
// shared inbox and outbox would feed results back in as jobs.
func (d DirConfig) Validate() error {
	if d.Inbox == "" || d.Outbox == "" || d.State == "" {
		return fmt.Errorf("inbox, outbox, and state directories are required")
	}
	seen := make(map[string]string, 3)
	for _, dir := range []struct{ name, path string }{
		{"inbox", d.Inbox}, {"outbox", d.Outbox}, {"state", d.State},
	} {
		clean := filepath.Clean(dir.path)
		if other, ok := seen[clean]; ok {
			return fmt.Errorf("%s and %s must be different directories (%s)", other, dir.name, clean)
		}
		seen[clean] = dir.name
	}
	return nil
}

// EnsureDirs creates all required directories. Idempotent.
func EnsureDirs(cfg DirConfig) error {
	for _, dir := range []string{cfg.Inbox, cfg.Outbox, cfg.ProcessingDir(), cfg.FailedDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// moveFile renames src to dst. Across mounts (EXDEV) it copies to a
// temporary name beside dst, renames that into place and removes src, so
// dst never appears half-written.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}

	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst with src's permissions and syncs dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
