// Package types implements on-disk data structures for ReiserFS 3.5/3.6.
// Layouts and constants follow the Linux kernel's fs/reiserfs definitions;
// all on-disk integers are little-endian.
package types

// BlockNr represents the number of an on-disk block.
// Block pointers on disk are 32-bit; a value of zero inside an indirect
// item denotes a sparse hole, never a real block.
type BlockNr uint32

// SectorSize is the unit of the ddrescue mapfile and of retry granularity.
// ddrescue operates on 512-byte hardware sectors regardless of the
// filesystem block size.
const SectorSize = 512

// BlockRange is a contiguous run of blocks.
type BlockRange struct {
	Start BlockNr
	Count uint32
}

// End returns one past the last block of the range.
func (r BlockRange) End() BlockNr { return r.Start + BlockNr(r.Count) }

const (
	// SuperblockDiskOffset is the byte offset of the superblock within the
	// partition (REISERFS_DISK_OFFSET_IN_BYTES). The first 64 KiB are left
	// untouched for boot loaders.
	SuperblockDiskOffset = 65536

	// SuperblockSize is the number of on-disk bytes decoded for the
	// superblock (through s_inode_generation).
	SuperblockSize = 80
)

// Superblock magic strings (field s_magic, 12 bytes, NUL padded).
const (
	Magic35 = "ReIsErFs"  // format 3.5
	Magic36 = "ReIsEr2Fs" // format 3.6
	MagicJr = "ReIsEr3Fs" // journal-relocated variant
)

// Format versions (field s_version).
const (
	FormatVersion1 = 0 // 3.5, old contiguous bitmap layout
	FormatVersion2 = 2 // 3.6, spread bitmap layout
)

// Directory name hash codes (field s_hash_function_code).
const (
	UnsetHash uint32 = 0
	TeaHash   uint32 = 1
	YuraHash  uint32 = 2
	R5Hash    uint32 = 3
)

// MaxTreeHeight is the kernel's MAX_HEIGHT: no valid tree is taller.
const MaxTreeHeight = 5

// SuperblockT mirrors struct reiserfs_super_block. Journal parameters are
// decoded but never applied; the tool does not replay the journal.
type SuperblockT struct {
	SBlockCount      uint32 // s_block_count: total blocks in the filesystem
	SFreeBlocks      uint32 // s_free_blocks
	SRootBlock       BlockNr
	SJournalBlock    uint32 // jp_journal_1st_block
	SJournalDev      uint32
	SOrigJournalSize uint32
	SJournalTransMax uint32
	SJournalMagic    uint32
	SJournalMaxBatch uint32
	SJournalMaxCommitAge uint32
	SJournalMaxTransAge  uint32
	SBlocksize       uint16
	SOidMaxsize      uint16
	SOidCursize      uint16
	SUmountState     uint16
	SMagic           [12]byte
	SHashFunctionCode uint32
	STreeHeight      uint16
	SBmapNr          uint16 // number of free-space bitmap blocks
	SVersion         uint16
	SInodeGeneration uint32
}

// MagicString returns the magic with NUL padding stripped.
func (sb *SuperblockT) MagicString() string {
	b := sb.SMagic[:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Node head and item bookkeeping sizes.
const (
	BlockHeadSize = 24 // struct block_head, including 16 reserved bytes
	KeySize       = 16 // struct reiserfs_key on disk
	ItemHeadSize  = 24 // struct item_head: key + ih fields
	DiskChildSize = 8  // struct disk_child: block number + size + padding
	DirEntryHeadSize = 16 // struct reiserfs_de_head, name stored separately

	// LeafLevel is the level of leaf nodes (DISK_LEAF_NODE_LEVEL).
	// Internal nodes are level 2 and above; "level 0" exists only on the
	// command surface and means file data blocks.
	LeafLevel = 1
)

// BlockHeadT mirrors struct block_head, the first 24 bytes of every
// formatted tree node.
type BlockHeadT struct {
	BlkLevel     uint16 // blk_level: 1 for leaves, 2+ for internal nodes
	BlkNrItem    uint16 // blk_nr_item: item count (leaf) or key count (internal)
	BlkFreeSpace uint16 // blk_free_space: unused bytes in this node
}

// ItemHeadT mirrors struct item_head, one per item at the front of a leaf.
type ItemHeadT struct {
	IhKey      Key
	IhCount    uint16 // free space (last item) or entry count (directories)
	IhItemLen  uint16
	IhItemLocation uint16 // offset of the body within the whole block
	IhVersion  uint16 // 0 for format 3.5 keys, 1 for 3.6
}

// DirEntryT is a decoded directory entry: a reiserfs_de_head plus the
// entry name recovered from the tail of the item body.
type DirEntryT struct {
	DehOffset uint32 // hash-derived offset of this entry within the directory
	DehDirID  uint32 // dir id of the object referenced
	DehObjectID uint32
	DehState  uint16
	Name      []byte
}

// FileType is the object type taken from the top four bits of the
// stat-data mode field.
type FileType uint8

const (
	FileTypeFIFO      FileType = 1
	FileTypeCharacter FileType = 2
	FileTypeDirectory FileType = 4
	FileTypeBlock     FileType = 6
	FileTypeRegular   FileType = 8
	FileTypeLink      FileType = 10
	FileTypeSocket    FileType = 12
)

func (t FileType) String() string {
	switch t {
	case FileTypeFIFO:
		return "fifo"
	case FileTypeCharacter:
		return "character device"
	case FileTypeDirectory:
		return "directory"
	case FileTypeBlock:
		return "block device"
	case FileTypeRegular:
		return "regular file"
	case FileTypeLink:
		return "symbolic link"
	case FileTypeSocket:
		return "socket"
	}
	return "unknown"
}

// Stat data sizes on disk.
const (
	StatV1Size = 32 // struct stat_data_v1 through ctime plus legacy fields
	StatV2Size = 44 // struct stat_data
)

// StatT is the version-independent view of an object's stat-data item.
type StatT struct {
	Mode     uint16 // permission bits only; the type nibble lives in Type
	Type     FileType
	NumLinks uint32
	UID      uint32
	GID      uint32
	Size     uint64
	Atime    uint32
	Mtime    uint32
	Ctime    uint32
}
