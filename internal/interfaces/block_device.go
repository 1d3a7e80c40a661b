// Package interfaces declares the narrow contracts the traversal services
// consume, so decoders can be exercised against fakes in tests.
package interfaces

import "github.com/deploymenttheory/go-reiserfs/internal/types"

// BlockReader is rescue-map-gated access to the image. Reads return
// (nil, false, nil) for holes: bytes whose successful rescue the map
// cannot confirm. Holes are data, not errors.
type BlockReader interface {
	// ReadBlock returns the block's bytes only when every covering
	// 512-byte sector is finished.
	ReadBlock(nr types.BlockNr) (data []byte, complete bool, err error)

	// ReadBlockRaw returns the block's bytes without gating. Callers own
	// the per-sector completeness accounting (the tree node protocol).
	ReadBlockRaw(nr types.BlockNr) ([]byte, error)

	// ReadRange returns a partition-relative byte range when fully
	// finished; used to bootstrap the superblock before the block size
	// is known.
	ReadRange(off, length int64) (data []byte, complete bool, err error)

	// SectorFinished reports whether the partition-relative 512-byte
	// sector has been successfully read.
	SectorFinished(sector int64) bool

	// BlockComplete reports whether every sector of the block is finished.
	BlockComplete(nr types.BlockNr) bool

	// BlockSize returns the filesystem block size in bytes.
	BlockSize() int64

	// SectorsPerBlock returns BlockSize / 512.
	SectorsPerBlock() int64

	// TotalBlocks returns the number of addressable blocks in the
	// partition per the mapped image size.
	TotalBlocks() uint64

	// PartitionStart returns the partition byte offset within the image.
	PartitionStart() int64

	// ImageSize returns the total mapped image size in bytes.
	ImageSize() int64
}
