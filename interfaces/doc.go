// Package interfaces defines core interfaces and types for the block-storage
// encryption enablement daemon, separating contracts from implementations.
//
// The enablement state machine in package cryptenable depends only on the
// narrow interfaces defined here:
//
// KeyStorage: persists and retrieves the raw symmetric key for a volume.
// Implementations live in package keystore (local file, HashiCorp Vault).
//
// VolumeSource: resolves the data volume descriptor (raw block device, mount
// point, key directory). Supplied by mount metadata, treated as read-only.
//
// DeviceSizer: reports the sector count of a raw block device.
//
// Mounter: mounts a block device at a mount point, running any filesystem
// check tooling it needs. Implementations live in package mount.
//
// InplaceTransform: rewrites a sector range of the volume to its encrypted
// form through the mapped device, reporting sectors completed.
//
// PropertyChannel: the init system's key/value signaling channel. The daemon
// never touches process-global property state; it only talks to this
// interface. Implementations live in package props.
//
// The package also holds the sentinel errors shared across components; all
// failures returned by this module wrap one of them so callers can branch
// with errors.Is.
package interfaces
