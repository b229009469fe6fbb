package devmapper

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/voltaic/blockcryptd/interfaces"
)

// BufferSize is the fixed capacity of every control command buffer.
const BufferSize = 4096

// Kernel struct sizes and offsets (linux/dm-ioctl.h). These must match the
// kernel ABI bit for bit.
const (
	// sizeof(struct dm_ioctl)
	hdrSize = 312

	// sizeof(struct dm_target_spec); target parameters follow immediately.
	targetSpecSize = 40

	// dm_ioctl field offsets.
	hdrVersion     = 0  // __u32 version[3]
	hdrDataSize    = 12 // __u32 data_size
	hdrDataStart   = 16 // __u32 data_start
	hdrTargetCount = 20 // __u32 target_count
	hdrFlags       = 28 // __u32 flags
	hdrDev         = 40 // __u64 dev
	hdrName        = 48 // char name[DM_NAME_LEN]

	// dm_target_spec field offsets, relative to the spec record.
	specSectorStart = 0  // __u64 sector_start
	specLength      = 8  // __u64 length
	specNext        = 20 // __u32 next
	specTargetType  = 24 // char target_type[DM_MAX_TYPE_NAME]
)

// Protocol version stamped into every command header.
var protocolVersion = [3]uint32{4, 0, 0}

// cmdBuffer owns one fixed-size control command buffer. Every command starts
// from a freshly zeroed buffer so stale fields from a previous command never
// leak into the next.
type cmdBuffer struct {
	buf [BufferSize]byte
}

// reset zeroes the buffer and writes a fresh versioned header for the named
// mapping. Names longer than the kernel's fixed-width name field are
// truncated; that is the documented kernel behavior for this field.
func (b *cmdBuffer) reset(name string) {
	clear(b.buf[:])

	binary.NativeEndian.PutUint32(b.buf[hdrVersion:], protocolVersion[0])
	binary.NativeEndian.PutUint32(b.buf[hdrVersion+4:], protocolVersion[1])
	binary.NativeEndian.PutUint32(b.buf[hdrVersion+8:], protocolVersion[2])
	binary.NativeEndian.PutUint32(b.buf[hdrDataSize:], BufferSize)
	binary.NativeEndian.PutUint32(b.buf[hdrDataStart:], hdrSize)

	copy(b.buf[hdrName:hdrName+unix.DM_NAME_LEN], name)
}

// setTable appends a single target-spec record followed by the parameter
// payload, NUL terminated and padded to the next 8-byte boundary. If the
// payload does not fit the buffer, setTable fails with ErrParamsTooLarge
// before anything is written: truncating key material silently would corrupt
// the mapping without a detectable error.
func (b *cmdBuffer) setTable(sectorCount uint64, targetType string, params []byte) error {
	paramIx := hdrSize + targetSpecSize
	nullIx := paramIx + len(params)
	endIx := (nullIx + 1 + 7) &^ 7

	if endIx > BufferSize {
		return fmt.Errorf("%w: need %d bytes, have %d", interfaces.ErrParamsTooLarge, endIx, BufferSize)
	}

	binary.NativeEndian.PutUint32(b.buf[hdrTargetCount:], 1)

	spec := b.buf[hdrSize:]
	binary.NativeEndian.PutUint64(spec[specSectorStart:], 0)
	binary.NativeEndian.PutUint64(spec[specLength:], sectorCount)
	binary.NativeEndian.PutUint32(spec[specNext:], uint32(endIx-hdrSize))
	copy(spec[specTargetType:specTargetType+unix.DM_MAX_TYPE_NAME], targetType)

	copy(b.buf[paramIx:], params)
	b.buf[nullIx] = 0
	return nil
}

// dev returns the kernel-assigned device number from a status reply.
func (b *cmdBuffer) dev() uint64 {
	return binary.NativeEndian.Uint64(b.buf[hdrDev:])
}

// bytes exposes the raw buffer for ioctl issuance.
func (b *cmdBuffer) bytes() []byte {
	return b.buf[:]
}

// tableFits reports whether an encoded parameter payload of the given length
// fits a table-load command together with its header and target spec.
func tableFits(paramsLen int) bool {
	return (hdrSize+targetSpecSize+paramsLen+1+7)&^7 <= BufferSize
}

// MinorNumber extracts the minor number of a mapped device from the packed
// device number reported in a status reply. The kernel packs the minor's low
// byte into bits 0-7 and its high bits into bits 20-31; the two pieces are
// merged back as (dev & 0xff) | ((dev >> 12) & 0xfff00).
func MinorNumber(dev uint64) uint64 {
	return (dev & 0xff) | ((dev >> 12) & 0xfff00)
}

// DevicePath derives the virtual block-device path for a packed device
// number, e.g. /dev/block/dm-0.
func DevicePath(dev uint64) string {
	return fmt.Sprintf("/dev/block/dm-%d", MinorNumber(dev))
}
