package interfaces

import "errors"

var (
	// ErrKeyMissing is returned when no volume key exists and the caller did
	// not ask for one to be created.
	ErrKeyMissing = errors.New("volume key not found")

	// ErrVolumeNotFound is returned when the data volume descriptor cannot
	// be resolved.
	ErrVolumeNotFound = errors.New("data volume not found")

	// ErrDeviceOpen is returned when the raw block device cannot be opened.
	ErrDeviceOpen = errors.New("cannot open block device")

	// ErrSizeQuery is returned when the block device reports a zero size.
	// A zero-sector device is unusable, not merely unsized.
	ErrSizeQuery = errors.New("cannot measure block device size")

	// ErrEncoding is returned when the crypto parameter string cannot be
	// encoded, e.g. because the key material is empty.
	ErrEncoding = errors.New("cannot encode crypto parameters")

	// ErrParamsTooLarge is returned when the encoded parameters do not fit
	// the fixed-size mapping command buffer. Truncating key material
	// silently would corrupt the mapping, so the command is never issued.
	ErrParamsTooLarge = errors.New("crypto parameters exceed command buffer")

	// ErrMappingExists is returned when the kernel rejects mapping creation
	// because a mapping with that name is already present.
	ErrMappingExists = errors.New("mapping already exists")

	// ErrDriver is returned for any other rejection by the kernel mapping
	// driver.
	ErrDriver = errors.New("mapping driver error")

	// ErrTableLoad is returned once the bounded table-load retries are
	// exhausted.
	ErrTableLoad = errors.New("table load failed")

	// ErrActivation is returned when the loaded mapping cannot be resumed.
	// Never retried: by this point the table is loaded and a failure
	// indicates a problem retrying cannot fix.
	ErrActivation = errors.New("mapping activation failed")

	// ErrPartialTransform is returned when the in-place transform finishes
	// short of the requested sector count. The volume is left in a state
	// requiring operator intervention; the encryption state flag is never
	// flipped.
	ErrPartialTransform = errors.New("in-place transform incomplete")

	// ErrUnexpectedState is returned when encryption enablement is invoked
	// while the encryption state flag is already set. The operation must
	// never run twice.
	ErrUnexpectedState = errors.New("unexpected encryption state")
)
