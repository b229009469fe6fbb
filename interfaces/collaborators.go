package interfaces

import (
	"context"
	"time"

	"github.com/awnumar/memguard"
)

// KeyStorage persists and retrieves the raw symmetric key for a volume.
//
// The returned buffer is owned exclusively by the caller, must never be
// logged in cleartext, and must be destroyed as soon as the key has been
// consumed.
type KeyStorage interface {
	// Retrieve returns the key stored at primaryPath. When createIfAbsent
	// is set and no key exists, a new key is generated and persisted,
	// staged through tempPath so the primary location is only ever written
	// atomically. When createIfAbsent is false and no key exists, Retrieve
	// fails with ErrKeyMissing.
	Retrieve(ctx context.Context, createIfAbsent bool, primaryPath, tempPath string) (*memguard.LockedBuffer, error)
}

// VolumeSource resolves the data volume descriptor.
type VolumeSource interface {
	// DataVolume returns the descriptor of the data volume, or an error
	// wrapping ErrVolumeNotFound when it is unavailable.
	DataVolume() (VolumeDescriptor, error)
}

// DeviceSizer reports the size of a raw block device in sectors.
type DeviceSizer interface {
	// SectorCount opens the device read-only and queries its size in the
	// kernel's native sector unit. Fails with ErrDeviceOpen if the open
	// fails, ErrSizeQuery if the reported size is zero.
	SectorCount(devicePath string) (uint64, error)
}

// Mounter mounts a block device at a mount point. Implementations run the
// filesystem check tooling and may require an elevated execution context for
// it, scoped to the call only.
type Mounter interface {
	Mount(mountPoint, blockDevice string) error
}

// InplaceTransform rewrites existing on-disk data to its encrypted form
// without relocating it, by copying the source device through the mapped
// (encrypting) device.
type InplaceTransform interface {
	// Transform processes totalSectors sectors beginning at startSector and
	// returns the number of sectors completed. A short count with a nil
	// error is possible and is the caller's responsibility to treat as a
	// partial transform.
	Transform(ctx context.Context, srcDevice, dstDevice string, totalSectors, startSector uint64) (uint64, error)
}

// PropertyChannel is the init system's key/value signaling channel.
type PropertyChannel interface {
	// Get returns the current value of key, or the empty string when the
	// key is unset.
	Get(key string) string

	// Set publishes a value. Write-only from the init system's view; the
	// daemon never observes its own writes except through Get.
	Set(key, value string) error

	// WaitFor polls key until it reports expected or the timeout elapses.
	WaitFor(key, expected string, timeout time.Duration) error
}
