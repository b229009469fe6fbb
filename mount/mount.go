// Package mount mounts mapped block devices, running a filesystem check
// before handing the device to the kernel.
package mount

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExecMounter mounts block devices using the system mount and fsck tools.
// Implements interfaces.Mounter.
type ExecMounter struct {
	// FsckPath locates the filesystem check tool. Defaults to "fsck".
	FsckPath string

	// FsckDomain, when set, is the security domain the fsck tool runs in,
	// scoped to that invocation only.
	FsckDomain string

	log *slog.Logger
}

// NewExecMounter creates a mounter using the system tools.
func NewExecMounter(log *slog.Logger) *ExecMounter {
	return &ExecMounter{FsckPath: "fsck", log: log}
}

// Mount checks and mounts blockDevice at mountPoint, creating the mount
// point if needed.
func (m *ExecMounter) Mount(mountPoint, blockDevice string) error {
	if err := m.fsck(blockDevice); err != nil {
		return err
	}

	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("could not create mount point: %w", err)
	}
	if out, err := exec.Command("mount", blockDevice, mountPoint).CombinedOutput(); err != nil {
		return fmt.Errorf("could not mount %s at %s: %w (output: %s)", blockDevice, mountPoint, err, out)
	}

	m.log.Debug("Mounted", "mountPoint", mountPoint, "device", blockDevice)
	return nil
}

func (m *ExecMounter) fsck(blockDevice string) error {
	name := m.FsckPath
	args := []string{"-y", blockDevice}
	if m.FsckDomain != "" {
		args = append([]string{"-t", m.FsckDomain, m.FsckPath}, args...)
		name = "runcon"
	}

	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// fsck exits 1 when it corrected errors; the device is still
		// mountable.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			m.log.Info("fsck corrected errors", "device", blockDevice)
			return nil
		}
		return fmt.Errorf("fsck of %s failed: %w (output: %s)", blockDevice, err, out)
	}
	return nil
}
