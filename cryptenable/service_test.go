package cryptenable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaic/blockcryptd/devmapper"
	"github.com/voltaic/blockcryptd/interfaces"
)

// fastClock collapses all waits so the post-mount settle delay does not slow
// tests down.
type fastClock struct {
	clock.Clock
}

func (fastClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fakeKeys struct {
	err error

	calls          int
	createIfAbsent bool
	primaryPath    string
	tempPath       string
}

func (k *fakeKeys) Retrieve(ctx context.Context, createIfAbsent bool, primaryPath, tempPath string) (*memguard.LockedBuffer, error) {
	k.calls++
	k.createIfAbsent = createIfAbsent
	k.primaryPath = primaryPath
	k.tempPath = tempPath
	if k.err != nil {
		return nil, k.err
	}
	return memguard.NewBufferFromBytes(bytes.Repeat([]byte{0x42}, 64)), nil
}

type fakeSizer struct {
	sectors uint64
	err     error
}

func (s fakeSizer) SectorCount(devicePath string) (uint64, error) {
	return s.sectors, s.err
}

type fakeMapper struct {
	path string
	err  error

	calls int
	req   devmapper.MappingRequest
}

func (m *fakeMapper) CreateMapping(req devmapper.MappingRequest) (string, error) {
	m.calls++
	m.req = req
	// The caller wipes the parameter buffer after provisioning, so the
	// record keeps its own copy.
	m.req.Params = append([]byte(nil), req.Params...)
	if m.err != nil {
		return "", m.err
	}
	return m.path, nil
}

type fakeMounter struct {
	err error

	mountPoint  string
	blockDevice string
	calls       int
}

func (m *fakeMounter) Mount(mountPoint, blockDevice string) error {
	m.calls++
	m.mountPoint = mountPoint
	m.blockDevice = blockDevice
	return m.err
}

type fakeTransform struct {
	done uint64
	err  error

	srcDevice    string
	dstDevice    string
	totalSectors uint64
	startSector  uint64
	calls        int
}

func (f *fakeTransform) Transform(ctx context.Context, srcDevice, dstDevice string, totalSectors, startSector uint64) (uint64, error) {
	f.calls++
	f.srcDevice = srcDevice
	f.dstDevice = dstDevice
	f.totalSectors = totalSectors
	f.startSector = startSector
	return f.done, f.err
}

// fakeProps records every Set in order so tests can assert the exact
// signaling sequence.
type fakeProps struct {
	values  map[string]string
	waitErr error

	sets      []string
	waitCalls int
}

func newFakeProps() *fakeProps {
	return &fakeProps{values: make(map[string]string)}
}

func (p *fakeProps) Get(key string) string { return p.values[key] }

func (p *fakeProps) Set(key, value string) error {
	p.values[key] = value
	p.sets = append(p.sets, fmt.Sprintf("%s=%s", key, value))
	return nil
}

func (p *fakeProps) WaitFor(key, expected string, timeout time.Duration) error {
	p.waitCalls++
	return p.waitErr
}

type fixture struct {
	keys      *fakeKeys
	mapper    *fakeMapper
	mounter   *fakeMounter
	transform *fakeTransform
	props     *fakeProps
	spawned   int
	service   *Service
}

func newFixture(t *testing.T, sectors uint64) *fixture {
	t.Helper()

	f := &fixture{
		keys:      &fakeKeys{},
		mapper:    &fakeMapper{path: "/dev/block/dm-0"},
		mounter:   &fakeMounter{},
		transform: &fakeTransform{done: sectors},
		props:     newFakeProps(),
	}

	svc, err := New(Config{
		Log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Keys: f.keys,
		Volumes: StaticVolumeSource{Volume: interfaces.VolumeDescriptor{
			BlockDevice: "/dev/sda",
			MountPoint:  "/data",
			KeyDir:      t.TempDir(),
		}},
		Sizer:     fakeSizer{sectors: sectors},
		DM:        f.mapper,
		Mounter:   f.mounter,
		Transform: f.transform,
		Props:     f.props,
		Clock:     fastClock{clock.WallClock},
		Spawn: func(fn func()) {
			f.spawned++
			fn()
		},
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

// TestMountExistingEncrypted drives the boot-time mount end to end: key
// load, mapping provisioning, mount, and the asynchronous framework restart
func TestMountExistingEncrypted(t *testing.T) {
	f := newFixture(t, 1000000)

	require.NoError(t, f.service.MountExistingEncrypted(context.Background()))

	// The existing key may not be regenerated.
	assert.Equal(t, 1, f.keys.calls)
	assert.False(t, f.keys.createIfAbsent)

	require.Equal(t, 1, f.mapper.calls)
	assert.Equal(t, MappingName, f.mapper.req.Name)
	assert.Equal(t, TargetType, f.mapper.req.TargetType)
	assert.Equal(t, uint64(1000000), f.mapper.req.SectorCount)
	assert.True(t, bytes.HasPrefix(f.mapper.req.Params, []byte(CipherName+" ")))
	assert.True(t, bytes.HasSuffix(f.mapper.req.Params, []byte(" /dev/sda 0")))

	// The mount targets the mapped device, never the raw one.
	assert.Equal(t, "/data", f.mounter.mountPoint)
	assert.Equal(t, "/dev/block/dm-0", f.mounter.blockDevice)

	// Post-mount sequence ran detached and in order.
	assert.Equal(t, 1, f.spawned)
	assert.Equal(t, []string{
		"vold.decrypt=trigger_load_persist_props",
		"vold.post_fs_data_done=0",
		"vold.decrypt=trigger_post_fs_data",
		"vold.decrypt=trigger_restart_framework",
	}, f.props.sets)
	assert.Equal(t, 1, f.props.waitCalls)
}

// TestMountExistingEncryptedMountFailure: a failed mount is logged but the
// operation still succeeds with the mapping left active
func TestMountExistingEncryptedMountFailure(t *testing.T) {
	f := newFixture(t, 1000000)
	f.mounter.err = errors.New("mount: wrong fs type")

	require.NoError(t, f.service.MountExistingEncrypted(context.Background()))
	assert.Equal(t, 1, f.mounter.calls)
	assert.Equal(t, 1, f.spawned, "post-mount sequence still scheduled")
}

func TestMountExistingEncryptedKeyMissing(t *testing.T) {
	f := newFixture(t, 1000000)
	f.keys.err = fmt.Errorf("%w: no key file", interfaces.ErrKeyMissing)

	err := f.service.MountExistingEncrypted(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrKeyMissing)
	assert.Zero(t, f.mapper.calls, "no mapping without a key")
	assert.Zero(t, f.mounter.calls)
}

// TestEnableEncryptionInPlace covers first-boot enablement: all sectors are
// rewritten, then and only then the state flag flips
func TestEnableEncryptionInPlace(t *testing.T) {
	f := newFixture(t, 1000000)

	require.NoError(t, f.service.EnableEncryptionInPlace(context.Background()))

	assert.True(t, f.keys.createIfAbsent, "first boot generates the key")

	require.Equal(t, 1, f.transform.calls)
	assert.Equal(t, "/dev/sda", f.transform.srcDevice)
	assert.Equal(t, "/dev/block/dm-0", f.transform.dstDevice)
	assert.Equal(t, uint64(1000000), f.transform.totalSectors)
	assert.Equal(t, uint64(0), f.transform.startSector)

	assert.Equal(t, "encrypted", f.props.values[interfaces.PropCryptoState])
	assert.Equal(t, "file", f.props.values[interfaces.PropCryptoType])

	// The synchronous part flips state, type, and the main-class reset;
	// the rest is the detached post-mount sequence.
	assert.Equal(t, []string{
		"ro.crypto.state=encrypted",
		"ro.crypto.type=file",
		"vold.decrypt=trigger_reset_main",
		"vold.decrypt=trigger_load_persist_props",
		"vold.post_fs_data_done=0",
		"vold.decrypt=trigger_post_fs_data",
		"vold.decrypt=trigger_restart_framework",
	}, f.props.sets)
}

// TestEnableEncryptionInPlacePartial: a transform that stops short must not
// commit the encryption state flag or signal the framework
func TestEnableEncryptionInPlacePartial(t *testing.T) {
	f := newFixture(t, 1000000)
	f.transform.done = 500000

	err := f.service.EnableEncryptionInPlace(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrPartialTransform)

	assert.Equal(t, "", f.props.values[interfaces.PropCryptoState], "state flag not flipped")
	assert.Empty(t, f.props.sets)
	assert.Zero(t, f.mounter.calls)
	assert.Zero(t, f.spawned)
}

func TestEnableEncryptionInPlaceTransformError(t *testing.T) {
	f := newFixture(t, 1000000)
	f.transform.done = 0
	f.transform.err = errors.New("read failed at sector 512")

	err := f.service.EnableEncryptionInPlace(context.Background())
	require.Error(t, err)
	assert.Equal(t, "", f.props.values[interfaces.PropCryptoState])
	assert.Zero(t, f.spawned)
}

// TestEnableEncryptionInPlaceAlreadyEncrypted: the precondition check must
// run before any key or mapping work
func TestEnableEncryptionInPlaceAlreadyEncrypted(t *testing.T) {
	f := newFixture(t, 1000000)
	f.props.values[interfaces.PropCryptoState] = "encrypted"

	err := f.service.EnableEncryptionInPlace(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnexpectedState)

	assert.Zero(t, f.keys.calls)
	assert.Zero(t, f.mapper.calls)
	assert.Zero(t, f.transform.calls)
}

// TestPostMountPrepTimeout: when data preparation never completes the
// framework restart must not be signaled
func TestPostMountPrepTimeout(t *testing.T) {
	f := newFixture(t, 1000000)
	f.props.waitErr = errors.New("property vold.post_fs_data_done is not yet \"1\"")

	require.NoError(t, f.service.MountExistingEncrypted(context.Background()))

	assert.Equal(t, []string{
		"vold.decrypt=trigger_load_persist_props",
		"vold.post_fs_data_done=0",
		"vold.decrypt=trigger_post_fs_data",
	}, f.props.sets)
	assert.NotContains(t, f.props.sets, "vold.decrypt=trigger_restart_framework")
}

func TestProvisioningFailurePropagates(t *testing.T) {
	f := newFixture(t, 1000000)
	f.mapper.err = fmt.Errorf("%w: \"userdata\"", interfaces.ErrMappingExists)

	err := f.service.MountExistingEncrypted(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrMappingExists)
	assert.Zero(t, f.mounter.calls)
	assert.Zero(t, f.spawned)
}
