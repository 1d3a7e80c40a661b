package services

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/deploymenttheory/go-reiserfs/internal/device"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// The test image is a tiny format 3.6 filesystem:
//
//	block 16      superblock (byte 65536)
//	block 17      free-space bitmap
//	block 20      internal root node, level 2
//	block 21      leaf: root dir stat + entries, hello.txt stat
//	block 22      leaf: hello.txt indirect item, sub dir stat + entries
//	blocks 30,31  hello.txt data (5000 bytes: 4096 'A', 904 'B')
//
// Root dir (1,2) holds "hello.txt" -> (2,3) and "sub" -> (2,4). The sub
// directory carries a "loop" entry pointing back at the root, the kind
// of cycle damaged metadata produces.
const (
	fxBlockSize  = 4096
	fxBlockCount = 40
	fxImageSize  = fxBlockCount * fxBlockSize

	fxSuperBlock    = types.BlockNr(16)
	fxBitmapBlock   = types.BlockNr(17)
	fxRootNode      = types.BlockNr(20)
	fxLeafA         = types.BlockNr(21)
	fxLeafB         = types.BlockNr(22)
	fxDataBlockA    = types.BlockNr(30)
	fxDataBlockB    = types.BlockNr(31)
	fxHelloSize     = 5000
	fxHelloTailSize = fxHelloSize - fxBlockSize
)

var fxle = binary.LittleEndian

func packKey36(dirid, objid uint32, offset uint64, typ types.ItemType) []byte {
	b := make([]byte, types.KeySize)
	fxle.PutUint32(b[0:4], dirid)
	fxle.PutUint32(b[4:8], objid)
	fxle.PutUint64(b[8:16], offset|uint64(typ)<<60)
	return b
}

type fxItem struct {
	key   []byte
	count uint16
	body  []byte
}

func leafBlock(items []fxItem) []byte {
	block := make([]byte, fxBlockSize)
	bodyTotal := 0
	for _, it := range items {
		bodyTotal += len(it.body)
	}
	free := fxBlockSize - types.BlockHeadSize - len(items)*types.ItemHeadSize - bodyTotal

	fxle.PutUint16(block[0:2], types.LeafLevel)
	fxle.PutUint16(block[2:4], uint16(len(items)))
	fxle.PutUint16(block[4:6], uint16(free))

	loc := fxBlockSize
	for i, it := range items {
		loc -= len(it.body)
		off := types.BlockHeadSize + i*types.ItemHeadSize
		copy(block[off:off+types.KeySize], it.key)
		fxle.PutUint16(block[off+16:off+18], it.count)
		fxle.PutUint16(block[off+18:off+20], uint16(len(it.body)))
		fxle.PutUint16(block[off+20:off+22], uint16(loc))
		fxle.PutUint16(block[off+22:off+24], 1) // 3.6 keys
		copy(block[loc:loc+len(it.body)], it.body)
	}
	return block
}

func internalBlock(level uint16, keys [][]byte, children []types.BlockNr) []byte {
	block := make([]byte, fxBlockSize)
	used := types.BlockHeadSize + len(keys)*types.KeySize + len(children)*types.DiskChildSize
	fxle.PutUint16(block[0:2], level)
	fxle.PutUint16(block[2:4], uint16(len(keys)))
	fxle.PutUint16(block[4:6], uint16(fxBlockSize-used))
	off := types.BlockHeadSize
	for _, k := range keys {
		copy(block[off:off+types.KeySize], k)
		off += types.KeySize
	}
	for _, child := range children {
		fxle.PutUint32(block[off:off+4], uint32(child))
		off += types.DiskChildSize
	}
	return block
}

func statV2Body(fileType types.FileType, mode uint16, size uint64, nlink uint32) []byte {
	b := make([]byte, types.StatV2Size)
	fxle.PutUint16(b[0:2], uint16(fileType)<<12|mode)
	fxle.PutUint32(b[4:8], nlink)
	fxle.PutUint64(b[8:16], size)
	fxle.PutUint32(b[16:20], 1000) // uid
	fxle.PutUint32(b[20:24], 1000) // gid
	fxle.PutUint32(b[24:28], 1700000000)
	fxle.PutUint32(b[28:32], 1700000001)
	fxle.PutUint32(b[32:36], 1700000002)
	return b
}

type fxEntry struct {
	offset uint32
	dirid  uint32
	objid  uint32
	name   string
}

func direntryBody(entries []fxEntry) ([]byte, uint16) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })
	total := len(entries) * types.DirEntryHeadSize
	for _, e := range entries {
		total += len(e.name)
	}
	body := make([]byte, total)
	loc := total
	for i, e := range entries {
		loc -= len(e.name)
		off := i * types.DirEntryHeadSize
		fxle.PutUint32(body[off:off+4], e.offset)
		fxle.PutUint32(body[off+4:off+8], e.dirid)
		fxle.PutUint32(body[off+8:off+12], e.objid)
		fxle.PutUint16(body[off+12:off+14], uint16(loc))
		fxle.PutUint16(body[off+14:off+16], 4) // visible
		copy(body[loc:], e.name)
	}
	return body, uint16(len(entries))
}

func nameOffset(name string) uint32 {
	return r5Hash([]byte(name)) & hashValueMask
}

func buildSuperblock() []byte {
	b := make([]byte, types.SuperblockSize)
	fxle.PutUint32(b[0:4], fxBlockCount)
	fxle.PutUint32(b[4:8], 17)
	fxle.PutUint32(b[8:12], uint32(fxRootNode))
	fxle.PutUint16(b[44:46], fxBlockSize)
	fxle.PutUint16(b[46:48], 1024) // oid maxsize
	fxle.PutUint16(b[48:50], 6)    // oid cursize
	fxle.PutUint16(b[50:52], 2)    // cleanly unmounted
	copy(b[52:64], types.Magic36)
	fxle.PutUint32(b[64:68], types.R5Hash)
	fxle.PutUint16(b[68:70], 2) // tree height
	fxle.PutUint16(b[70:72], 1) // bmap_nr
	fxle.PutUint16(b[72:74], types.FormatVersion2)
	fxle.PutUint32(b[76:80], 1)
	return b
}

func buildBitmapBlock() []byte {
	b := make([]byte, fxBlockSize)
	setUsed := func(nr types.BlockNr) {
		b[nr/8] |= 1 << (nr % 8)
	}
	for nr := types.BlockNr(0); nr <= fxBitmapBlock; nr++ {
		setUsed(nr)
	}
	for _, nr := range []types.BlockNr{fxRootNode, fxLeafA, fxLeafB, fxDataBlockA, fxDataBlockB} {
		setUsed(nr)
	}
	return b
}

// fxUsedRuns is what the bitmap above encodes, as maximal runs.
var fxUsedRuns = []types.BlockRange{
	{Start: 0, Count: 18},
	{Start: 20, Count: 3},
	{Start: 30, Count: 2},
}

func buildTestImage() []byte {
	img := make([]byte, fxImageSize)
	put := func(nr types.BlockNr, data []byte) {
		copy(img[int(nr)*fxBlockSize:], data)
	}

	put(fxSuperBlock, buildSuperblock())
	put(fxBitmapBlock, buildBitmapBlock())

	rootEntries, rootCount := direntryBody([]fxEntry{
		{offset: 1, dirid: 1, objid: 2, name: "."},
		{offset: 2, dirid: 0, objid: 1, name: ".."},
		{offset: nameOffset("hello.txt"), dirid: 2, objid: 3, name: "hello.txt"},
		{offset: nameOffset("sub"), dirid: 2, objid: 4, name: "sub"},
	})
	subEntries, subCount := direntryBody([]fxEntry{
		{offset: 1, dirid: 2, objid: 4, name: "."},
		{offset: 2, dirid: 1, objid: 2, name: ".."},
		{offset: nameOffset("loop"), dirid: 1, objid: 2, name: "loop"},
	})

	indirect := make([]byte, 8)
	fxle.PutUint32(indirect[0:4], uint32(fxDataBlockA))
	fxle.PutUint32(indirect[4:8], uint32(fxDataBlockB))

	put(fxLeafA, leafBlock([]fxItem{
		{key: packKey36(1, 2, 0, types.TypeStatData), body: statV2Body(types.FileTypeDirectory, 0o755, 144, 3)},
		{key: packKey36(1, 2, 1, types.TypeDirentry), count: rootCount, body: rootEntries},
		{key: packKey36(2, 3, 0, types.TypeStatData), body: statV2Body(types.FileTypeRegular, 0o644, fxHelloSize, 1)},
	}))
	put(fxLeafB, leafBlock([]fxItem{
		{key: packKey36(2, 3, 1, types.TypeIndirect), body: indirect},
		{key: packKey36(2, 4, 0, types.TypeStatData), body: statV2Body(types.FileTypeDirectory, 0o755, 96, 2)},
		{key: packKey36(2, 4, 1, types.TypeDirentry), count: subCount, body: subEntries},
	}))
	put(fxRootNode, internalBlock(2,
		[][]byte{packKey36(2, 3, 1, types.TypeIndirect)},
		[]types.BlockNr{fxLeafA, fxLeafB}))

	dataA := make([]byte, fxBlockSize)
	for i := range dataA {
		dataA[i] = 'A'
	}
	dataB := make([]byte, fxBlockSize)
	for i := range dataB {
		dataB[i] = 'B'
	}
	put(fxDataBlockA, dataA)
	put(fxDataBlockB, dataB)
	return img
}

// The small-file image keeps the same block layout but stores files the
// other way ReiserFS does: note.txt lives entirely in a direct item,
// tail.bin is one unformatted block plus a direct tail item.
//
//	block 21  leaf: root dir stat + entries, note.txt stat
//	block 22  leaf: note.txt direct body, tail.bin stat + indirect + tail
//	block 30  tail.bin unformatted data (4096 'A')
const (
	fxNoteBody     = "ten bytes!"
	fxTailBytes    = 10
	fxTailFileSize = fxBlockSize + fxTailBytes
)

func buildSmallFileImage() []byte {
	img := make([]byte, fxImageSize)
	put := func(nr types.BlockNr, data []byte) {
		copy(img[int(nr)*fxBlockSize:], data)
	}

	put(fxSuperBlock, buildSuperblock())
	put(fxBitmapBlock, buildBitmapBlock())

	rootEntries, rootCount := direntryBody([]fxEntry{
		{offset: 1, dirid: 1, objid: 2, name: "."},
		{offset: 2, dirid: 0, objid: 1, name: ".."},
		{offset: nameOffset("note.txt"), dirid: 2, objid: 3, name: "note.txt"},
		{offset: nameOffset("tail.bin"), dirid: 2, objid: 4, name: "tail.bin"},
	})

	indirect := make([]byte, 4)
	fxle.PutUint32(indirect[0:4], uint32(fxDataBlockA))

	tail := make([]byte, fxTailBytes)
	for i := range tail {
		tail[i] = 'T'
	}

	put(fxLeafA, leafBlock([]fxItem{
		{key: packKey36(1, 2, 0, types.TypeStatData), body: statV2Body(types.FileTypeDirectory, 0o755, 120, 2)},
		{key: packKey36(1, 2, 1, types.TypeDirentry), count: rootCount, body: rootEntries},
		{key: packKey36(2, 3, 0, types.TypeStatData), body: statV2Body(types.FileTypeRegular, 0o644, uint64(len(fxNoteBody)), 1)},
	}))
	put(fxLeafB, leafBlock([]fxItem{
		{key: packKey36(2, 3, 1, types.TypeDirect), body: []byte(fxNoteBody)},
		{key: packKey36(2, 4, 0, types.TypeStatData), body: statV2Body(types.FileTypeRegular, 0o644, fxTailFileSize, 1)},
		{key: packKey36(2, 4, 1, types.TypeIndirect), body: indirect},
		{key: packKey36(2, 4, fxBlockSize+1, types.TypeDirect), body: tail},
	}))
	put(fxRootNode, internalBlock(2,
		[][]byte{packKey36(2, 3, 1, types.TypeDirect)},
		[]types.BlockNr{fxLeafA, fxLeafB}))

	dataA := make([]byte, fxBlockSize)
	for i := range dataA {
		dataA[i] = 'A'
	}
	put(fxDataBlockA, dataA)
	return img
}

func writeImage(t *testing.T, image []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.img")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		t.Fatalf("writing test image: %v", err)
	}
	return path
}

func finishedMap(t *testing.T) *rescue.Map {
	t.Helper()
	m, err := rescue.NewMap([]rescue.Region{
		{Start: 0, Size: fxImageSize, Status: rescue.StatusFinished},
	})
	if err != nil {
		t.Fatalf("building rescue map: %v", err)
	}
	return m
}

// damagedMap marks the given blocks bad and everything else finished.
func damagedMap(t *testing.T, bad ...types.BlockNr) *rescue.Map {
	t.Helper()
	sort.Slice(bad, func(i, j int) bool { return bad[i] < bad[j] })
	var regions []rescue.Region
	pos := int64(0)
	for _, nr := range bad {
		start := int64(nr) * fxBlockSize
		if start > pos {
			regions = append(regions, rescue.Region{Start: pos, Size: start - pos, Status: rescue.StatusFinished})
		}
		regions = append(regions, rescue.Region{Start: start, Size: fxBlockSize, Status: rescue.StatusBad})
		pos = start + fxBlockSize
	}
	if pos < fxImageSize {
		regions = append(regions, rescue.Region{Start: pos, Size: fxImageSize - pos, Status: rescue.StatusFinished})
	}
	m, err := rescue.NewMap(regions)
	if err != nil {
		t.Fatalf("building rescue map: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, rmap *rescue.Map) *Session {
	return newSessionOver(t, buildTestImage(), rmap)
}

func newSessionOver(t *testing.T, image []byte, rmap *rescue.Map) *Session {
	t.Helper()
	img, err := device.OpenImage(writeImage(t, image), 0)
	if err != nil {
		t.Fatalf("opening test image: %v", err)
	}
	t.Cleanup(func() { img.Close() })

	session, err := NewSession(img, rmap)
	if err != nil {
		t.Fatalf("starting session: %v", err)
	}
	return session
}
