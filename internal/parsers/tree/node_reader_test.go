package tree

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

var le = binary.LittleEndian

func packKey36(dirID, objID uint32, offset uint64, itemType types.ItemType) []byte {
	b := make([]byte, types.KeySize)
	le.PutUint32(b[0:4], dirID)
	le.PutUint32(b[4:8], objID)
	le.PutUint64(b[8:16], offset|uint64(itemType)<<60)
	return b
}

func packKey35(dirID, objID, offset, uniqueness uint32) []byte {
	b := make([]byte, types.KeySize)
	le.PutUint32(b[0:4], dirID)
	le.PutUint32(b[4:8], objID)
	le.PutUint64(b[8:16], uint64(offset)|uint64(uniqueness)<<32)
	return b
}

// testItem is a leaf item to lay out: key bytes plus a body.
type testItem struct {
	key     []byte
	version uint16
	count   uint16
	body    []byte
}

// buildLeaf assembles a leaf block: head, item heads, then bodies packed
// from the end of the block backwards, the way mkreiserfs does.
func buildLeaf(blockSize int, items ...testItem) []byte {
	data := make([]byte, blockSize)
	le.PutUint16(data[0:2], types.LeafLevel)
	le.PutUint16(data[2:4], uint16(len(items)))

	location := blockSize
	for i, item := range items {
		location -= len(item.body)
		copy(data[location:], item.body)

		off := types.BlockHeadSize + i*types.ItemHeadSize
		copy(data[off:off+16], item.key)
		le.PutUint16(data[off+16:off+18], item.count)
		le.PutUint16(data[off+18:off+20], uint16(len(item.body)))
		le.PutUint16(data[off+20:off+22], uint16(location))
		le.PutUint16(data[off+22:off+24], item.version)
	}
	headsEnd := types.BlockHeadSize + len(items)*types.ItemHeadSize
	le.PutUint16(data[4:6], uint16(location-headsEnd)) // free space
	return data
}

// buildInternal assembles an internal node block from delimiting keys and
// child pointers (len(children) must be len(keys)+1).
func buildInternal(blockSize, level int, keys [][]byte, children []types.BlockNr) []byte {
	data := make([]byte, blockSize)
	le.PutUint16(data[0:2], uint16(level))
	le.PutUint16(data[2:4], uint16(len(keys)))

	off := types.BlockHeadSize
	for _, key := range keys {
		copy(data[off:off+16], key)
		off += types.KeySize
	}
	for _, child := range children {
		le.PutUint32(data[off:off+4], uint32(child))
		le.PutUint16(data[off+4:off+6], 100) // dc_size, unused here
		off += types.DiskChildSize
	}
	le.PutUint16(data[4:6], uint16(blockSize-off))
	return data
}

func statV2Body(fileType types.FileType, size uint64, nlink uint32) []byte {
	b := make([]byte, types.StatV2Size)
	le.PutUint16(b[0:2], uint16(fileType)<<12|0o644)
	le.PutUint32(b[4:8], nlink)
	le.PutUint64(b[8:16], size)
	le.PutUint32(b[16:20], 1000) // uid
	le.PutUint32(b[20:24], 1000) // gid
	le.PutUint32(b[24:28], 1600000000)
	le.PutUint32(b[28:32], 1600000001)
	le.PutUint32(b[32:36], 1600000002)
	return b
}

func TestInternalNodeNavigation(t *testing.T) {
	keys := [][]byte{
		packKey36(1, 10, 0, types.TypeStatData),
		packKey36(1, 20, 0, types.TypeStatData),
	}
	children := []types.BlockNr{100, 200, 300}
	nr, err := NewNodeReader(buildInternal(4096, 2, keys, children), 50, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}

	if nr.IsLeaf() {
		t.Error("IsLeaf() = true for a level 2 node")
	}
	if nr.Level() != 2 {
		t.Errorf("Level() = %d, want 2", nr.Level())
	}

	got, err := nr.ChildPointers()
	if err != nil {
		t.Fatalf("ChildPointers() failed: %v", err)
	}
	if len(got) != 3 || got[0] != 100 || got[2] != 300 {
		t.Errorf("ChildPointers() = %v, want %v", got, children)
	}

	// Keys below the first delimiter go left, equal keys go right.
	cases := []struct {
		objID uint32
		want  types.BlockNr
	}{
		{5, 100},
		{10, 200},
		{15, 200},
		{20, 300},
		{25, 300},
	}
	for _, c := range cases {
		child, err := nr.ChildFor(types.ObjectKey(1, c.objID))
		if err != nil {
			t.Fatalf("ChildFor(objid=%d) failed: %v", c.objID, err)
		}
		if child != c.want {
			t.Errorf("ChildFor(objid=%d) = %d, want %d", c.objID, child, c.want)
		}
	}
}

func TestChildrenInRange(t *testing.T) {
	keys := [][]byte{
		packKey36(1, 10, 0, types.TypeStatData),
		packKey36(1, 20, 0, types.TypeStatData),
		packKey36(1, 30, 0, types.TypeStatData),
	}
	children := []types.BlockNr{100, 200, 300, 400}
	nr, err := NewNodeReader(buildInternal(4096, 2, keys, children), 51, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}

	start, end := types.ObjectKey(1, 15).BodyRange()
	got, err := nr.ChildrenInRange(start, end)
	if err != nil {
		t.Fatalf("ChildrenInRange() failed: %v", err)
	}
	if len(got) != 1 || got[0] != 200 {
		t.Errorf("ChildrenInRange() = %v, want [200]", got)
	}

	// A range spanning two delimiters touches three children.
	start = types.ObjectKey(1, 5)
	end = types.ObjectKey(1, 25)
	got, err = nr.ChildrenInRange(start, end)
	if err != nil {
		t.Fatalf("ChildrenInRange() failed: %v", err)
	}
	if len(got) != 3 || got[0] != 100 || got[2] != 300 {
		t.Errorf("ChildrenInRange() = %v, want [100 200 300]", got)
	}
}

func TestLeafItems(t *testing.T) {
	leaf := buildLeaf(4096,
		testItem{key: packKey36(1, 2, 0, types.TypeStatData), version: 1, body: statV2Body(types.FileTypeDirectory, 48, 3)},
		testItem{key: packKey36(1, 4, 0, types.TypeStatData), version: 1, body: statV2Body(types.FileTypeRegular, 10, 1)},
		testItem{key: packKey36(1, 4, 1, types.TypeDirect), version: 1, body: []byte("hello, fs!")},
	)
	nr, err := NewNodeReader(leaf, 60, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}
	if !nr.IsLeaf() {
		t.Fatal("IsLeaf() = false for a level 1 node")
	}

	items, err := nr.Items()
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Items() returned %d items, want 3", len(items))
	}
	if string(items[2].Body) != "hello, fs!" {
		t.Errorf("direct item body = %q, want %q", items[2].Body, "hello, fs!")
	}

	item, err := nr.FindItem(types.ObjectKey(1, 4))
	if err != nil {
		t.Fatalf("FindItem() failed: %v", err)
	}
	if item == nil {
		t.Fatal("FindItem() = nil for a present key")
	}
	stat, err := item.Stat(le)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if stat.Type != types.FileTypeRegular || stat.Size != 10 {
		t.Errorf("Stat() = %+v, want regular file of size 10", stat)
	}

	missing, err := nr.FindItem(types.ObjectKey(1, 99))
	if err != nil {
		t.Fatalf("FindItem() failed: %v", err)
	}
	if missing != nil {
		t.Error("FindItem() found an absent key")
	}

	start, end := types.ObjectKey(1, 4).BodyRange()
	ranged, err := nr.ItemsInRange(start, end)
	if err != nil {
		t.Fatalf("ItemsInRange() failed: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Head.IhKey.Type != types.TypeDirect {
		t.Errorf("ItemsInRange() = %d items, want just the direct item", len(ranged))
	}
}

func TestPayloadExtents(t *testing.T) {
	leaf := buildLeaf(4096,
		testItem{key: packKey36(1, 4, 0, types.TypeStatData), version: 1, body: statV2Body(types.FileTypeRegular, 10, 1)},
		testItem{key: packKey36(1, 4, 1, types.TypeDirect), version: 1, body: []byte("hello, fs!")},
	)
	nr, err := NewNodeReader(leaf, 61, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}
	front, tail, err := nr.PayloadExtents()
	if err != nil {
		t.Fatalf("PayloadExtents() failed: %v", err)
	}
	if front != types.BlockHeadSize+2*types.ItemHeadSize {
		t.Errorf("front = %d, want %d", front, types.BlockHeadSize+2*types.ItemHeadSize)
	}
	if tail != types.StatV2Size+10 {
		t.Errorf("tail = %d, want %d", tail, types.StatV2Size+10)
	}

	internal := buildInternal(4096, 2, [][]byte{packKey36(1, 10, 0, types.TypeStatData)}, []types.BlockNr{100, 200})
	inr, err := NewNodeReader(internal, 62, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}
	front, tail, err = inr.PayloadExtents()
	if err != nil {
		t.Fatalf("PayloadExtents() failed: %v", err)
	}
	if front != types.BlockHeadSize+types.KeySize+2*types.DiskChildSize {
		t.Errorf("front = %d, want head+key+2 pointers", front)
	}
	if tail != 0 {
		t.Errorf("tail = %d, want 0 for internal nodes", tail)
	}
}

func TestIndirectItemBlocks(t *testing.T) {
	indirect := make([]byte, 12)
	le.PutUint32(indirect[0:4], 500)
	le.PutUint32(indirect[4:8], 0) // sparse hole
	le.PutUint32(indirect[8:12], 502)

	leaf := buildLeaf(4096,
		testItem{key: packKey36(1, 4, 1, types.TypeIndirect), version: 1, body: indirect},
	)
	nr, err := NewNodeReader(leaf, 63, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}
	blocks, err := nr.IndirectItemBlocks()
	if err != nil {
		t.Fatalf("IndirectItemBlocks() failed: %v", err)
	}
	want := []types.BlockNr{500, 0, 502}
	if len(blocks) != 3 || blocks[0] != want[0] || blocks[1] != want[1] || blocks[2] != want[2] {
		t.Errorf("IndirectItemBlocks() = %v, want %v", blocks, want)
	}
}

func TestNodeReaderRejectsMalformedNodes(t *testing.T) {
	badLevel := make([]byte, 4096)
	le.PutUint16(badLevel[0:2], 9)

	overflow := make([]byte, 4096)
	le.PutUint16(overflow[0:2], types.LeafLevel)
	le.PutUint16(overflow[2:4], 600) // 600 item heads cannot fit

	badFree := make([]byte, 4096)
	le.PutUint16(badFree[0:2], 2)
	le.PutUint16(badFree[4:6], 5000)

	for name, data := range map[string][]byte{
		"bad level":           badLevel,
		"item count overflow": overflow,
		"free space overflow": badFree,
		"truncated":           make([]byte, 10),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewNodeReader(data, 70, le)
			if err == nil {
				t.Fatal("NewNodeReader() accepted a malformed node")
			}
			if !errors.Is(err, types.ErrMalformedStructure) {
				t.Errorf("error %v is not a malformed-structure error", err)
			}
		})
	}
}

func TestItemBodyBoundsChecked(t *testing.T) {
	leaf := buildLeaf(4096,
		testItem{key: packKey36(1, 4, 1, types.TypeDirect), version: 1, body: []byte("data")},
	)
	// Corrupt the item location to point past the block.
	le.PutUint16(leaf[types.BlockHeadSize+20:types.BlockHeadSize+22], 5000)

	nr, err := NewNodeReader(leaf, 71, le)
	if err != nil {
		t.Fatalf("NewNodeReader() failed: %v", err)
	}
	if _, err := nr.Items(); !errors.Is(err, types.ErrMalformedStructure) {
		t.Errorf("Items() error = %v, want malformed structure", err)
	}
}
