package interfaces

// VolumeDescriptor identifies a data volume. It is supplied by the mount
// metadata collaborator and treated as read-only input.
type VolumeDescriptor struct {
	// BlockDevice is the path of the raw backing block device.
	BlockDevice string

	// MountPoint is where the (mapped) volume is mounted.
	MountPoint string

	// KeyDir is the directory holding the volume key material.
	KeyDir string
}

// Property keys and values recognized by the init-system property channel.
const (
	// PropCryptoState is the persistent encryption state flag. Empty means
	// unencrypted; PropCryptoStateEncrypted means the volume has been
	// converted.
	PropCryptoState          = "ro.crypto.state"
	PropCryptoStateEncrypted = "encrypted"

	// PropCryptoType records the encryption type once enablement completes.
	PropCryptoType     = "ro.crypto.type"
	PropCryptoTypeFile = "file"

	// PropDecrypt carries trigger values consumed by the init system.
	PropDecrypt             = "vold.decrypt"
	TriggerPostFSData       = "trigger_post_fs_data"
	TriggerLoadPersistProps = "trigger_load_persist_props"
	TriggerRestartFramework = "trigger_restart_framework"
	TriggerResetMain        = "trigger_reset_main"

	// PropPostFSDataDone is set by the init system once data-area
	// preparation finishes. Polled by the post-mount sequence.
	PropPostFSDataDone = "vold.post_fs_data_done"
)
