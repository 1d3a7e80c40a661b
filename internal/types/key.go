package types

// ItemType discriminates the four item kinds stored in tree leaves.
// Values are the format 3.6 type nibble; format 3.5 keys carry 32-bit
// uniqueness values instead, translated on decode.
type ItemType uint8

const (
	TypeStatData  ItemType = 0
	TypeIndirect  ItemType = 1
	TypeDirect    ItemType = 2
	TypeDirentry  ItemType = 3
	TypeAny       ItemType = 15
)

// Format 3.5 key uniqueness values (the high 32 bits of the offset field).
const (
	V1StatDataUniqueness uint32 = 0
	V1IndirectUniqueness uint32 = 0xFFFFFFFE
	V1DirectUniqueness   uint32 = 0xFFFFFFFF
	V1DirentryUniqueness uint32 = 500
	V1AnyUniqueness      uint32 = 555
)

func (t ItemType) String() string {
	switch t {
	case TypeStatData:
		return "stat data"
	case TypeIndirect:
		return "indirect"
	case TypeDirect:
		return "direct"
	case TypeDirentry:
		return "directory"
	case TypeAny:
		return "any"
	}
	return "invalid"
}

// KeyFormat distinguishes the two on-disk key encodings.
type KeyFormat uint8

const (
	KeyFormat35 KeyFormat = 1
	KeyFormat36 KeyFormat = 2
)

// Key identifies an object and a position within it. Items in a leaf are
// sorted by Key ascending; internal node keys delimit child subtrees.
type Key struct {
	DirID    uint32
	ObjectID uint32
	Offset   uint64
	Type     ItemType
	Format   KeyFormat
}

// Root object of every filesystem: directory id 1, object id 2.
const (
	RootParentObjectID = 1
	RootObjectID       = 2
)

// RootKey returns the stat-data key of the filesystem root directory.
func RootKey() Key {
	return Key{DirID: RootParentObjectID, ObjectID: RootObjectID, Type: TypeStatData, Format: KeyFormat36}
}

// ObjectKey returns the stat-data key for an arbitrary (dirid, objid)
// pair, the form used to name lost+found objects directly.
func ObjectKey(dirID, objectID uint32) Key {
	return Key{DirID: dirID, ObjectID: objectID, Type: TypeStatData, Format: KeyFormat36}
}

// Compare orders keys the way the tree does: by directory id, object id,
// offset, then item type. The comparison is only meaningful across key
// formats when one side is a stat-data key (offset and type both zero),
// which is the only way the traversal code uses mixed-format bounds.
func (k Key) Compare(other Key) int {
	switch {
	case k.DirID < other.DirID:
		return -1
	case k.DirID > other.DirID:
		return 1
	case k.ObjectID < other.ObjectID:
		return -1
	case k.ObjectID > other.ObjectID:
		return 1
	case k.Offset < other.Offset:
		return -1
	case k.Offset > other.Offset:
		return 1
	case k.Type < other.Type:
		return -1
	case k.Type > other.Type:
		return 1
	}
	return 0
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

// BodyRange returns the key bounds [start, end) that cover every body
// item of the object identified by k: offsets from 1 through the
// stat-data key of the next object id.
func (k Key) BodyRange() (start, end Key) {
	start = Key{DirID: k.DirID, ObjectID: k.ObjectID, Offset: 1, Type: TypeStatData, Format: KeyFormat35}
	end = Key{DirID: k.DirID, ObjectID: k.ObjectID + 1, Offset: 0, Type: TypeStatData, Format: KeyFormat35}
	return start, end
}
