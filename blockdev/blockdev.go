// Package blockdev queries raw block devices: sector counts via the kernel
// size ioctl, and device path resolution by glob pattern.
package blockdev

import (
	"errors"
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/voltaic/blockcryptd/interfaces"
)

// SectorSize is the kernel's native sector unit for device-mapper table
// lengths and offsets.
const SectorSize = 512

// Sizer measures block devices through the kernel. Implements
// interfaces.DeviceSizer.
type Sizer struct{}

// SectorCount opens the device read-only and reports its size in sectors.
// A device reporting zero size is unusable and fails with ErrSizeQuery.
func (Sizer) SectorCount(devicePath string) (uint64, error) {
	fd, err := unix.Open(devicePath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", interfaces.ErrDeviceOpen, devicePath, err)
	}
	defer unix.Close(fd)

	var sizeBytes uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&sizeBytes)))
	if errno != 0 {
		return 0, fmt.Errorf("%w: %s: %v", interfaces.ErrSizeQuery, devicePath, errno)
	}

	sectors := sizeBytes / SectorSize
	if sectors == 0 {
		return 0, fmt.Errorf("%w: %s reports zero size", interfaces.ErrSizeQuery, devicePath)
	}
	return sectors, nil
}

// DevicePathForGlob finds a device path matching the provided glob pattern.
func DevicePathForGlob(deviceGlob string) (string, error) {
	devices, err := filepath.Glob(deviceGlob)
	if err != nil {
		return "", err
	} else if len(devices) == 0 {
		return "", errors.New("no devices matched")
	}
	return devices[0], nil
}
