// Package inplace rewrites existing on-disk data to its encrypted form by
// copying the raw device through the mapped (encrypting) device sector by
// sector, without relocating anything.
package inplace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const sectorSize = 512

// Copier performs the bulk in-place transform. Implements
// interfaces.InplaceTransform.
type Copier struct {
	// ChunkSectors is the number of sectors copied per read/write pair.
	// Defaults to 2048 (1 MiB).
	ChunkSectors uint64

	log *slog.Logger
}

// NewCopier creates a transform with default chunking.
func NewCopier(log *slog.Logger) *Copier {
	return &Copier{ChunkSectors: 2048, log: log}
}

// Transform copies totalSectors sectors starting at startSector from
// srcDevice into dstDevice and reports the sectors completed. Because the
// destination is the encrypting mapping over the same backing sectors, every
// completed chunk replaces its own plaintext. The returned count is exact:
// a caller comparing it against totalSectors can detect a partial transform.
func (c *Copier) Transform(ctx context.Context, srcDevice, dstDevice string, totalSectors, startSector uint64) (uint64, error) {
	src, err := os.OpenFile(srcDevice, os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("could not open source device: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstDevice, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("could not open destination device: %w", err)
	}
	defer dst.Close()

	offset := int64(startSector) * sectorSize
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("could not seek source device: %w", err)
	}
	if _, err := dst.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("could not seek destination device: %w", err)
	}

	chunkSectors := c.ChunkSectors
	if chunkSectors == 0 {
		chunkSectors = 2048
	}
	buf := make([]byte, chunkSectors*sectorSize)

	var done uint64
	lastReport := uint64(0)
	for done < totalSectors {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		n := chunkSectors
		if remaining := totalSectors - done; remaining < n {
			n = remaining
		}
		chunk := buf[:n*sectorSize]

		// The whole chunk is read before any of it is written back, since
		// source and destination share backing sectors.
		if _, err := io.ReadFull(src, chunk); err != nil {
			return done, fmt.Errorf("read failed at sector %d: %w", startSector+done, err)
		}
		if _, err := dst.Write(chunk); err != nil {
			return done, fmt.Errorf("write failed at sector %d: %w", startSector+done, err)
		}
		done += n

		if done-lastReport >= totalSectors/10+1 {
			c.log.Info("In-place transform progress", "sectorsDone", done, "sectorsTotal", totalSectors)
			lastReport = done
		}
	}

	if err := dst.Sync(); err != nil {
		return done, fmt.Errorf("sync failed: %w", err)
	}
	return done, nil
}
