package devmapper

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/sys/unix"

	"github.com/voltaic/blockcryptd/interfaces"
)

const (
	// ControlDevice is the device-mapper control node.
	ControlDevice = "/dev/device-mapper"

	// TableLoadRetries bounds the table-load attempts. The mapping driver
	// occasionally reports the device busy immediately after creation.
	TableLoadRetries = 10

	// TableLoadDelay is the fixed delay between table-load attempts.
	TableLoadDelay = 500 * time.Millisecond
)

// Control issues device-mapper control commands. The kernel implementation
// wraps an open control-device descriptor; tests substitute fakes.
type Control interface {
	Issue(req uint, buf []byte) error
	Close() error
}

type kernelControl struct {
	fd int
}

// OpenControl opens the kernel device-mapper control device. The handle is
// opened and closed per provisioning attempt; there is no pooling.
func OpenControl() (Control, error) {
	fd, err := unix.Open(ControlDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", ControlDevice, err)
	}
	return &kernelControl{fd: fd}, nil
}

func (c *kernelControl) Issue(req uint, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(req), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *kernelControl) Close() error {
	return unix.Close(c.fd)
}

// MappingRequest describes one device-mapper table entry to provision.
type MappingRequest struct {
	// Name of the logical mapping, e.g. "userdata". Truncated to the
	// kernel's fixed-width name field on overflow.
	Name string

	// SectorCount is the length of the single target range. Must be
	// positive.
	SectorCount uint64

	// TargetType names the mapping transform, e.g. "default-key".
	// Truncated like Name.
	TargetType string

	// Params is the encoded crypto parameter payload. The caller retains
	// ownership and wipes it after provisioning.
	Params []byte
}

// Config carries the DM dependencies. Log is required; the rest default to
// production values.
type Config struct {
	Log *slog.Logger

	// Clock drives the inter-attempt delay. Defaults to the wall clock.
	Clock clock.Clock

	// LoadAttempts and LoadDelay bound the table-load retry loop.
	LoadAttempts int
	LoadDelay    time.Duration

	// OpenControl acquires a control handle. Defaults to the kernel
	// control device.
	OpenControl func() (Control, error)
}

// DM drives the device-mapper table protocol.
type DM struct {
	log          *slog.Logger
	clock        clock.Clock
	loadAttempts int
	loadDelay    time.Duration
	openControl  func() (Control, error)
}

// New creates a DM client from cfg, applying defaults for unset fields.
func New(cfg Config) *DM {
	dm := &DM{
		log:          cfg.Log,
		clock:        cfg.Clock,
		loadAttempts: cfg.LoadAttempts,
		loadDelay:    cfg.LoadDelay,
		openControl:  cfg.OpenControl,
	}
	if dm.clock == nil {
		dm.clock = clock.WallClock
	}
	if dm.loadAttempts == 0 {
		dm.loadAttempts = TableLoadRetries
	}
	if dm.loadDelay == 0 {
		dm.loadDelay = TableLoadDelay
	}
	if dm.openControl == nil {
		dm.openControl = OpenControl
	}
	return dm
}

// CreateMapping provisions an encrypted block-device mapping and returns the
// virtual block-device path. The command sequence is strictly create →
// status → table load → activate; each step's success is a precondition for
// the next.
func (dm *DM) CreateMapping(req MappingRequest) (string, error) {
	if req.SectorCount == 0 {
		return "", fmt.Errorf("%w: mapping %q: sector count must be positive", interfaces.ErrDriver, req.Name)
	}
	// Reject oversized parameters before any kernel command is issued.
	if !tableFits(len(req.Params)) {
		return "", fmt.Errorf("%w: mapping %q", interfaces.ErrParamsTooLarge, req.Name)
	}

	ctl, err := dm.openControl()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrDriver, err)
	}
	defer ctl.Close()

	var buf cmdBuffer

	buf.reset(req.Name)
	if err := ctl.Issue(unix.DM_DEV_CREATE, buf.bytes()); err != nil {
		if err == unix.EBUSY || err == unix.EEXIST {
			return "", fmt.Errorf("%w: %q", interfaces.ErrMappingExists, req.Name)
		}
		return "", fmt.Errorf("%w: create %q: %v", interfaces.ErrDriver, req.Name, err)
	}

	// Status reports the kernel-assigned device number, from which the
	// virtual block-device path is derived.
	buf.reset(req.Name)
	if err := ctl.Issue(unix.DM_DEV_STATUS, buf.bytes()); err != nil {
		return "", fmt.Errorf("%w: status %q: %v", interfaces.ErrDriver, req.Name, err)
	}
	blockDevice := DevicePath(buf.dev())

	err = retry.Call(retry.CallArgs{
		Func: func() error {
			// The table is rebuilt from scratch on every attempt so a
			// rejected load never leaves stale bytes behind.
			buf.reset(req.Name)
			if err := buf.setTable(req.SectorCount, req.TargetType, req.Params); err != nil {
				return err
			}
			return ctl.Issue(unix.DM_TABLE_LOAD, buf.bytes())
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, interfaces.ErrParamsTooLarge)
		},
		NotifyFunc: func(lastError error, attempt int) {
			dm.log.Info("table load failed, retrying", "mapping", req.Name, "attempt", attempt, "err", lastError)
		},
		Attempts: dm.loadAttempts,
		Delay:    dm.loadDelay,
		Clock:    dm.clock,
	})
	if err != nil {
		if lastErr := retry.LastError(err); errors.Is(lastErr, interfaces.ErrParamsTooLarge) {
			return "", lastErr
		}
		return "", fmt.Errorf("%w: mapping %q: %v", interfaces.ErrTableLoad, req.Name, retry.LastError(err))
	}

	// Resume activates the loaded table. No retry: a failure here means bad
	// parameters or device contention, which retrying cannot fix.
	buf.reset(req.Name)
	if err := ctl.Issue(unix.DM_DEV_SUSPEND, buf.bytes()); err != nil {
		return "", fmt.Errorf("%w: mapping %q: %v", interfaces.ErrActivation, req.Name, err)
	}

	dm.log.Debug("mapping activated", "mapping", req.Name, "device", blockDevice, "sectors", req.SectorCount)
	return blockDevice, nil
}

// Status reports whether a mapping with the given name exists, and its
// virtual block-device path when it does.
func (dm *DM) Status(name string) (string, bool, error) {
	ctl, err := dm.openControl()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", interfaces.ErrDriver, err)
	}
	defer ctl.Close()

	var buf cmdBuffer
	buf.reset(name)
	if err := ctl.Issue(unix.DM_DEV_STATUS, buf.bytes()); err != nil {
		if err == unix.ENXIO || err == unix.ENODEV || err == unix.ENOENT {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: status %q: %v", interfaces.ErrDriver, name, err)
	}
	return DevicePath(buf.dev()), true, nil
}

// Remove tears down a mapping. Not used by the enablement flows, which keep
// mappings alive on partial failure for later diagnosis; exposed for
// operator recovery.
func (dm *DM) Remove(name string) error {
	ctl, err := dm.openControl()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrDriver, err)
	}
	defer ctl.Close()

	var buf cmdBuffer
	buf.reset(name)
	if err := ctl.Issue(unix.DM_DEV_REMOVE, buf.bytes()); err != nil {
		return fmt.Errorf("%w: remove %q: %v", interfaces.ErrDriver, name, err)
	}
	dm.log.Debug("mapping removed", "mapping", name)
	return nil
}
