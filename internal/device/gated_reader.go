package device

import (
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// GatedReader is the single trust chokepoint between the decoders and the
// image: bytes are only asserted trustworthy when the rescue map says the
// covering sectors were successfully read. The image file itself may hold
// zero-filled or stale bytes wherever ddrescue has not finished.
//
// The rescue map is addressed in absolute image bytes; all offsets taken
// by this type are partition-relative and translated internally.
type GatedReader struct {
	img       *Image
	rmap      *rescue.Map
	blockSize int64
}

// NewGatedReader wires an image and its rescue map together. blockSize
// must be a positive multiple of the 512-byte rescue sector; it is known
// only after the superblock has been decoded, so callers bootstrap with
// ReadRange and construct the reader afterwards.
func NewGatedReader(img *Image, rmap *rescue.Map, blockSize int64) (*GatedReader, error) {
	if blockSize <= 0 || blockSize%types.SectorSize != 0 {
		return nil, fmt.Errorf("block size %d is not a multiple of %d: %w", blockSize, types.SectorSize, types.ErrMalformedStructure)
	}
	return &GatedReader{img: img, rmap: rmap, blockSize: blockSize}, nil
}

// BlockSize returns the filesystem block size in bytes.
func (g *GatedReader) BlockSize() int64 { return g.blockSize }

// SectorsPerBlock returns the number of rescue sectors per block.
func (g *GatedReader) SectorsPerBlock() int64 { return g.blockSize / types.SectorSize }

// ImageSize returns the total mapped image size in bytes.
func (g *GatedReader) ImageSize() int64 { return g.rmap.Size() }

// PartitionStart returns the partition byte offset within the image.
func (g *GatedReader) PartitionStart() int64 { return g.img.PartitionStart() }

// TotalBlocks returns how many whole blocks fit between the partition
// start and the end of the mapped image.
func (g *GatedReader) TotalBlocks() uint64 {
	avail := g.rmap.Size() - g.img.PartitionStart()
	if avail <= 0 {
		return 0
	}
	return uint64(avail / g.blockSize)
}

func (g *GatedReader) checkBlock(nr types.BlockNr) error {
	if uint64(nr) >= g.TotalBlocks() {
		return fmt.Errorf("block %d beyond image (have %d blocks): %w", nr, g.TotalBlocks(), types.ErrOutOfRange)
	}
	return nil
}

// SectorFinished reports whether the partition-relative 512-byte sector
// has been successfully read.
func (g *GatedReader) SectorFinished(sector int64) bool {
	return g.rmap.IsFinished(g.img.PartitionStart()+sector*types.SectorSize, types.SectorSize)
}

// BlockComplete reports whether every sector of the block is finished.
func (g *GatedReader) BlockComplete(nr types.BlockNr) bool {
	return g.rmap.IsFinished(g.img.PartitionStart()+int64(nr)*g.blockSize, g.blockSize)
}

// ReadBlock returns the block's bytes only when every covering sector is
// finished. A hole returns (nil, false, nil): not an error, the caller
// records the block as a wanted read and moves on.
func (g *GatedReader) ReadBlock(nr types.BlockNr) ([]byte, bool, error) {
	if err := g.checkBlock(nr); err != nil {
		return nil, false, err
	}
	if !g.BlockComplete(nr) {
		return nil, false, nil
	}
	data, err := g.img.ReadAt(int64(nr)*g.blockSize, g.blockSize)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ReadBlockRaw returns the block's bytes without consulting the map.
// Only the tree walker's node protocol uses it, after confirming the
// head sector is finished and while accounting per-sector completeness
// itself; everything else goes through ReadBlock.
func (g *GatedReader) ReadBlockRaw(nr types.BlockNr) ([]byte, error) {
	if err := g.checkBlock(nr); err != nil {
		return nil, err
	}
	return g.img.ReadAt(int64(nr)*g.blockSize, g.blockSize)
}

// ReadRange returns length bytes at the partition-relative offset when
// the whole range is finished, or (nil, false, nil) when it is behind a
// hole. Used to bootstrap the superblock before the block size is known.
func (g *GatedReader) ReadRange(off, length int64) ([]byte, bool, error) {
	abs := g.img.PartitionStart() + off
	if off < 0 || length <= 0 || abs+length > g.rmap.Size() {
		return nil, false, fmt.Errorf("range [%d, %d) outside mapped image: %w", off, off+length, types.ErrOutOfRange)
	}
	if !g.rmap.IsFinished(abs, length) {
		return nil, false, nil
	}
	data, err := g.img.ReadAt(off, length)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
