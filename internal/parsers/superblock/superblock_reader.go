package superblock

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/deploymenttheory/go-reiserfs/internal/interfaces"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// superblockReader implements the SuperblockReader interface
type superblockReader struct {
	superblock *types.SuperblockT
	data       []byte
	endian     binary.ByteOrder
}

// NewSuperblockReader parses and validates the superblock found at byte
// 65536 of the partition. A validation failure signals a wrong partition
// offset or block size rather than media damage: successfully read bytes
// are trusted, so there is nothing to fall back to.
func NewSuperblockReader(data []byte, endian binary.ByteOrder) (interfaces.SuperblockReader, error) {
	if len(data) < types.SuperblockSize {
		return nil, fmt.Errorf("data too small for superblock: %d bytes, need %d: %w",
			len(data), types.SuperblockSize, types.ErrMalformedStructure)
	}

	sb := parseSuperblock(data, endian)
	if err := validateSuperblock(sb); err != nil {
		return nil, err
	}

	return &superblockReader{
		superblock: sb,
		data:       data,
		endian:     endian,
	}, nil
}

// parseSuperblock parses raw bytes into a SuperblockT structure,
// following struct reiserfs_super_block field order.
func parseSuperblock(data []byte, endian binary.ByteOrder) *types.SuperblockT {
	sb := &types.SuperblockT{}

	sb.SBlockCount = endian.Uint32(data[0:4])
	sb.SFreeBlocks = endian.Uint32(data[4:8])
	sb.SRootBlock = types.BlockNr(endian.Uint32(data[8:12]))

	// Journal parameters (decoded for reporting, never replayed)
	sb.SJournalBlock = endian.Uint32(data[12:16])
	sb.SJournalDev = endian.Uint32(data[16:20])
	sb.SOrigJournalSize = endian.Uint32(data[20:24])
	sb.SJournalTransMax = endian.Uint32(data[24:28])
	sb.SJournalMagic = endian.Uint32(data[28:32])
	sb.SJournalMaxBatch = endian.Uint32(data[32:36])
	sb.SJournalMaxCommitAge = endian.Uint32(data[36:40])
	sb.SJournalMaxTransAge = endian.Uint32(data[40:44])

	sb.SBlocksize = endian.Uint16(data[44:46])
	sb.SOidMaxsize = endian.Uint16(data[46:48])
	sb.SOidCursize = endian.Uint16(data[48:50])
	sb.SUmountState = endian.Uint16(data[50:52])
	copy(sb.SMagic[:], data[52:64])
	sb.SHashFunctionCode = endian.Uint32(data[64:68])
	sb.STreeHeight = endian.Uint16(data[68:70])
	sb.SBmapNr = endian.Uint16(data[70:72])
	sb.SVersion = endian.Uint16(data[72:74])
	// 2 reserved bytes
	sb.SInodeGeneration = endian.Uint32(data[76:80])

	return sb
}

func validateSuperblock(sb *types.SuperblockT) error {
	magic := sb.MagicString()
	switch {
	case strings.HasPrefix(magic, types.Magic36),
		strings.HasPrefix(magic, types.Magic35),
		strings.HasPrefix(magic, types.MagicJr):
	default:
		return fmt.Errorf("invalid superblock magic %q: %w", magic, types.ErrMalformedStructure)
	}

	bs := sb.SBlocksize
	if bs < 512 || bs&(bs-1) != 0 {
		return fmt.Errorf("invalid block size %d: %w", bs, types.ErrMalformedStructure)
	}
	if sb.SBlockCount == 0 {
		return fmt.Errorf("zero block count: %w", types.ErrMalformedStructure)
	}
	if uint32(sb.SRootBlock) >= sb.SBlockCount {
		return fmt.Errorf("root block %d beyond block count %d: %w",
			sb.SRootBlock, sb.SBlockCount, types.ErrOutOfRange)
	}
	if sb.STreeHeight == 0 || sb.STreeHeight > types.MaxTreeHeight {
		return fmt.Errorf("tree height %d outside [1, %d]: %w",
			sb.STreeHeight, types.MaxTreeHeight, types.ErrMalformedStructure)
	}
	if sb.SFreeBlocks > sb.SBlockCount {
		return fmt.Errorf("free block count %d exceeds block count %d: %w",
			sb.SFreeBlocks, sb.SBlockCount, types.ErrMalformedStructure)
	}
	return nil
}

// Superblock returns the raw decoded superblock structure
func (sr *superblockReader) Superblock() *types.SuperblockT {
	return sr.superblock
}

// BlockSize returns the filesystem block size in bytes
func (sr *superblockReader) BlockSize() int64 {
	return int64(sr.superblock.SBlocksize)
}

// BlockCount returns the total number of filesystem blocks
func (sr *superblockReader) BlockCount() uint32 {
	return sr.superblock.SBlockCount
}

// FreeBlocks returns the free block count recorded at last mount
func (sr *superblockReader) FreeBlocks() uint32 {
	return sr.superblock.SFreeBlocks
}

// RootBlock returns the block number of the tree root
func (sr *superblockReader) RootBlock() types.BlockNr {
	return sr.superblock.SRootBlock
}

// TreeHeight returns the tree height recorded in the superblock
func (sr *superblockReader) TreeHeight() uint16 {
	return sr.superblock.STreeHeight
}

// FormatVersion returns the on-disk format version field
func (sr *superblockReader) FormatVersion() uint16 {
	return sr.superblock.SVersion
}

// HashFunctionCode returns the directory name hash code
func (sr *superblockReader) HashFunctionCode() uint32 {
	return sr.superblock.SHashFunctionCode
}

// BitmapBlocks returns every free-space bitmap block address. Format
// version 2 filesystems spread the bitmaps: the first sits right after
// the superblock, each subsequent one at the start of the block group it
// describes (multiples of blocksize*8). Version 1 keeps them contiguous
// after the superblock.
func (sr *superblockReader) BitmapBlocks() []types.BlockNr {
	blockSize := uint32(sr.superblock.SBlocksize)
	blocksPerBitmap := blockSize * 8
	sbBlock := uint32(types.SuperblockDiskOffset) / blockSize
	count := (sr.superblock.SBlockCount + blocksPerBitmap - 1) / blocksPerBitmap

	addrs := make([]types.BlockNr, 0, count)
	addrs = append(addrs, types.BlockNr(sbBlock+1))
	if sr.superblock.SVersion == types.FormatVersion1 {
		for i := uint32(1); i < count; i++ {
			addrs = append(addrs, types.BlockNr(sbBlock+1+i))
		}
		return addrs
	}
	for pos := blocksPerBitmap; pos < sr.superblock.SBlockCount; pos += blocksPerBitmap {
		addrs = append(addrs, types.BlockNr(pos))
	}
	return addrs
}
