package cryptenable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/juju/clock"

	"github.com/voltaic/blockcryptd/devmapper"
	"github.com/voltaic/blockcryptd/interfaces"
)

const (
	// MappingName is the fixed logical name of the data volume mapping.
	MappingName = "userdata"

	// TargetType is the mapping transform applied to the volume.
	TargetType = "default-key"

	// CipherName is the cipher passed to the mapping target.
	CipherName = "AES-256-XTS"
)

// Mapper is the slice of the device-mapper table protocol the state machine
// drives.
type Mapper interface {
	CreateMapping(req devmapper.MappingRequest) (string, error)
}

// Config carries the Service collaborators. All fields except Clock and
// Spawn are required.
type Config struct {
	Log       *slog.Logger
	Keys      interfaces.KeyStorage
	Volumes   interfaces.VolumeSource
	Sizer     interfaces.DeviceSizer
	DM        Mapper
	Mounter   interfaces.Mounter
	Transform interfaces.InplaceTransform
	Props     interfaces.PropertyChannel

	// Clock drives the post-mount settle delay. Defaults to the wall
	// clock.
	Clock clock.Clock

	// Spawn starts the detached post-mount task. Defaults to a goroutine.
	Spawn func(func())
}

// Service is the encryption enablement state machine.
type Service struct {
	log       *slog.Logger
	keys      interfaces.KeyStorage
	volumes   interfaces.VolumeSource
	sizer     interfaces.DeviceSizer
	dm        Mapper
	mounter   interfaces.Mounter
	transform interfaces.InplaceTransform
	props     interfaces.PropertyChannel
	clock     clock.Clock
	spawn     func(func())
}

// New creates a Service from cfg.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Log == nil:
		return nil, errors.New("cryptenable: logger is required")
	case cfg.Keys == nil:
		return nil, errors.New("cryptenable: key storage is required")
	case cfg.Volumes == nil:
		return nil, errors.New("cryptenable: volume source is required")
	case cfg.Sizer == nil:
		return nil, errors.New("cryptenable: device sizer is required")
	case cfg.DM == nil:
		return nil, errors.New("cryptenable: device mapper is required")
	case cfg.Mounter == nil:
		return nil, errors.New("cryptenable: mounter is required")
	case cfg.Props == nil:
		return nil, errors.New("cryptenable: property channel is required")
	}

	s := &Service{
		log:       cfg.Log,
		keys:      cfg.Keys,
		volumes:   cfg.Volumes,
		sizer:     cfg.Sizer,
		dm:        cfg.DM,
		mounter:   cfg.Mounter,
		transform: cfg.Transform,
		props:     cfg.Props,
		clock:     cfg.Clock,
		spawn:     cfg.Spawn,
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.spawn == nil {
		s.spawn = func(f func()) { go f() }
	}
	return s, nil
}

// MountExistingEncrypted mounts an already-encrypted data volume at boot.
// The mapping is provisioned, the mapped device is mounted, and the
// post-mount sequence is scheduled. A mount failure is logged but does not
// unwind the mapping: the mapping stays active for later diagnosis, and the
// operation still succeeds once the mapping is established.
func (s *Service) MountExistingEncrypted(ctx context.Context) error {
	s.log.Debug("Mounting existing encrypted volume")

	key, err := s.acquireKey(ctx, false)
	if err != nil {
		return err
	}
	defer key.Destroy()

	vol, err := s.volumes.DataVolume()
	if err != nil {
		return err
	}

	blockDevice, _, err := s.provision(vol, key)
	if err != nil {
		return err
	}

	if err := s.mounter.Mount(vol.MountPoint, blockDevice); err != nil {
		// Partial success: the mapping remains active.
		s.log.Error("Mount failed, leaving mapping active", "mountPoint", vol.MountPoint, "device", blockDevice, "err", err)
	}

	s.spawn(s.postMount)
	return nil
}

// EnableEncryptionInPlace converts an unencrypted data volume to its
// encrypted form. It provisions the mapping, rewrites every sector through
// it, and only then commits the encryption state flag. A partial transform
// is fatal and leaves the flag untouched; the volume then requires operator
// intervention.
func (s *Service) EnableEncryptionInPlace(ctx context.Context) error {
	s.log.Debug("Enabling in-place encryption")

	if state := s.props.Get(interfaces.PropCryptoState); state != "" {
		return fmt.Errorf("%w: %s=%q", interfaces.ErrUnexpectedState, interfaces.PropCryptoState, state)
	}

	key, err := s.acquireKey(ctx, true)
	if err != nil {
		return err
	}
	defer key.Destroy()

	vol, err := s.volumes.DataVolume()
	if err != nil {
		return err
	}

	blockDevice, nrSec, err := s.provision(vol, key)
	if err != nil {
		return err
	}

	s.log.Info("Beginning in-place encryption", "sectors", nrSec)
	done, err := s.transform.Transform(ctx, vol.BlockDevice, blockDevice, nrSec, 0)
	if err != nil {
		return fmt.Errorf("in-place encryption failed: %w", err)
	}
	if done != nrSec {
		return fmt.Errorf("%w: %d of %d sectors", interfaces.ErrPartialTransform, done, nrSec)
	}
	s.log.Info("In-place encryption complete", "sectors", done)

	s.setProp(interfaces.PropCryptoState, interfaces.PropCryptoStateEncrypted)
	s.setProp(interfaces.PropCryptoType, interfaces.PropCryptoTypeFile)

	if err := s.mounter.Mount(vol.MountPoint, blockDevice); err != nil {
		// The state flag transition is already committed.
		s.log.Error("Mount failed, leaving mapping active", "mountPoint", vol.MountPoint, "device", blockDevice, "err", err)
	}

	s.setProp(interfaces.PropDecrypt, interfaces.TriggerResetMain)
	s.spawn(s.postMount)
	return nil
}

// acquireKey resolves the volume's key directory, ensures it exists, and
// delegates to key storage.
func (s *Service) acquireKey(ctx context.Context, createIfAbsent bool) (*memguard.LockedBuffer, error) {
	vol, err := s.volumes.DataVolume()
	if err != nil {
		return nil, err
	}
	if vol.KeyDir == "" {
		return nil, fmt.Errorf("%w: volume has no key directory", interfaces.ErrVolumeNotFound)
	}
	if err := os.MkdirAll(vol.KeyDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create key directory %s: %w", vol.KeyDir, err)
	}
	return s.keys.Retrieve(ctx, createIfAbsent, filepath.Join(vol.KeyDir, "key"), filepath.Join(vol.KeyDir, "tmp"))
}

// provision sizes the backing device, encodes the crypto parameters, and
// drives the mapping protocol. Returns the mapped block-device path and the
// sector count.
func (s *Service) provision(vol interfaces.VolumeDescriptor, key *memguard.LockedBuffer) (string, uint64, error) {
	nrSec, err := s.sizer.SectorCount(vol.BlockDevice)
	if err != nil {
		return "", 0, err
	}

	params, err := devmapper.CryptParams(CipherName, key.Bytes(), vol.BlockDevice, 0)
	if err != nil {
		return "", 0, err
	}
	defer memguard.WipeBytes(params)

	blockDevice, err := s.dm.CreateMapping(devmapper.MappingRequest{
		Name:        MappingName,
		SectorCount: nrSec,
		TargetType:  TargetType,
		Params:      params,
	})
	if err != nil {
		return "", 0, err
	}
	return blockDevice, nrSec, nil
}

func (s *Service) setProp(key, value string) {
	if err := s.props.Set(key, value); err != nil {
		s.log.Error("Property set failed", "key", key, "err", err)
	}
}

// StaticVolumeSource serves a fixed volume descriptor supplied at startup.
type StaticVolumeSource struct {
	Volume interfaces.VolumeDescriptor
}

// DataVolume returns the configured descriptor.
func (s StaticVolumeSource) DataVolume() (interfaces.VolumeDescriptor, error) {
	if s.Volume.BlockDevice == "" {
		return interfaces.VolumeDescriptor{}, fmt.Errorf("%w: no block device configured", interfaces.ErrVolumeNotFound)
	}
	return s.Volume, nil
}
