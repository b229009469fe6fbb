// Package cryptenable sequences the steps that bring an encrypted data
// volume online: key acquisition, block-device sizing, crypto parameter
// encoding, mapping provisioning, optional bulk in-place conversion,
// remount, and asynchronous restart signaling toward the init system.
//
// Two entry operations share the provisioning steps. MountExistingEncrypted
// mounts an already-encrypted volume at boot; EnableEncryptionInPlace
// converts an unencrypted volume for the first time and must never run
// twice. Both operations execute synchronously on the caller; the post-mount
// sequence runs as a detached background task; its completion is not
// reported back to the caller.
//
// The two operations share the single logical mapping name; invoking them
// concurrently against the same volume is undefined and must be prevented by
// the caller.
package cryptenable
