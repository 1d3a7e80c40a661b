package interfaces

import "github.com/deploymenttheory/go-reiserfs/internal/types"

// SuperblockReader exposes the decoded, validated superblock: the layout
// parameters every traversal session starts from. Immutable once read.
type SuperblockReader interface {
	// Superblock returns the raw decoded structure.
	Superblock() *types.SuperblockT

	// BlockSize returns the filesystem block size in bytes.
	BlockSize() int64

	// BlockCount returns the total number of filesystem blocks.
	BlockCount() uint32

	// FreeBlocks returns the free block count recorded at last mount.
	FreeBlocks() uint32

	// RootBlock returns the block number of the tree root.
	RootBlock() types.BlockNr

	// TreeHeight returns the height recorded in the superblock; the root
	// node sits at this level, leaves at level 1.
	TreeHeight() uint16

	// FormatVersion returns the on-disk format version field.
	FormatVersion() uint16

	// HashFunctionCode returns the directory name hash code.
	HashFunctionCode() uint32

	// BitmapBlocks returns the block numbers of every free-space bitmap
	// block, per the layout variant the superblock selects.
	BitmapBlocks() []types.BlockNr
}
