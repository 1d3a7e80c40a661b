package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// Item is one leaf item: its head plus the body bytes from the tail of
// the leaf block.
type Item struct {
	Head types.ItemHeadT
	Body []byte
}

// Stat decodes a stat-data body. The two stat formats are told apart by
// size: 32 bytes for 3.5, 44 for 3.6.
func (it Item) Stat(endian binary.ByteOrder) (*types.StatT, error) {
	if it.Head.IhKey.Type != types.TypeStatData {
		return nil, fmt.Errorf("item %v is not stat data: %w", it.Head.IhKey.Type, types.ErrMalformedStructure)
	}
	switch len(it.Body) {
	case types.StatV1Size:
		mode := endian.Uint16(it.Body[0:2])
		return &types.StatT{
			Mode:     mode & 0xFFF,
			Type:     types.FileType(mode >> 12),
			NumLinks: uint32(endian.Uint16(it.Body[2:4])),
			UID:      uint32(endian.Uint16(it.Body[4:6])),
			GID:      uint32(endian.Uint16(it.Body[6:8])),
			Size:     uint64(endian.Uint32(it.Body[8:12])),
			Atime:    endian.Uint32(it.Body[12:16]),
			Mtime:    endian.Uint32(it.Body[16:20]),
			Ctime:    endian.Uint32(it.Body[20:24]),
		}, nil
	case types.StatV2Size:
		mode := endian.Uint16(it.Body[0:2])
		return &types.StatT{
			Mode:     mode & 0xFFF,
			Type:     types.FileType(mode >> 12),
			NumLinks: endian.Uint32(it.Body[4:8]),
			Size:     endian.Uint64(it.Body[8:16]),
			UID:      endian.Uint32(it.Body[16:20]),
			GID:      endian.Uint32(it.Body[20:24]),
			Atime:    endian.Uint32(it.Body[24:28]),
			Mtime:    endian.Uint32(it.Body[28:32]),
			Ctime:    endian.Uint32(it.Body[32:36]),
		}, nil
	}
	return nil, fmt.Errorf("stat data body of %d bytes matches neither format: %w", len(it.Body), types.ErrMalformedStructure)
}

// IndirectBlocks decodes an indirect item body: a packed array of 32-bit
// block numbers. Zero entries are sparse holes and are preserved so
// callers can account for them positionally.
func (it Item) IndirectBlocks(endian binary.ByteOrder) ([]types.BlockNr, error) {
	if it.Head.IhKey.Type != types.TypeIndirect {
		return nil, fmt.Errorf("item %v is not indirect: %w", it.Head.IhKey.Type, types.ErrMalformedStructure)
	}
	if len(it.Body)%4 != 0 {
		return nil, fmt.Errorf("indirect item body of %d bytes is not a block array: %w", len(it.Body), types.ErrMalformedStructure)
	}
	blocks := make([]types.BlockNr, len(it.Body)/4)
	for i := range blocks {
		blocks[i] = types.BlockNr(endian.Uint32(it.Body[i*4 : i*4+4]))
	}
	return blocks, nil
}

// DirectoryEntries decodes a directory item body: entry heads at the
// front, names packed backwards from the tail. Each name runs from its
// recorded location to the first NUL or to the previous entry's name.
func (it Item) DirectoryEntries(endian binary.ByteOrder) ([]types.DirEntryT, error) {
	if it.Head.IhKey.Type != types.TypeDirentry {
		return nil, fmt.Errorf("item %v is not a directory item: %w", it.Head.IhKey.Type, types.ErrMalformedStructure)
	}
	count := int(it.Head.IhCount)
	if count*types.DirEntryHeadSize > len(it.Body) {
		return nil, fmt.Errorf("directory item declares %d entries in a %d-byte body: %w",
			count, len(it.Body), types.ErrMalformedStructure)
	}
	entries := make([]types.DirEntryT, 0, count)
	nameEnd := len(it.Body)
	for i := 0; i < count; i++ {
		off := i * types.DirEntryHeadSize
		entry := types.DirEntryT{
			DehOffset:   endian.Uint32(it.Body[off : off+4]),
			DehDirID:    endian.Uint32(it.Body[off+4 : off+8]),
			DehObjectID: endian.Uint32(it.Body[off+8 : off+12]),
			DehState:    endian.Uint16(it.Body[off+14 : off+16]),
		}
		location := int(endian.Uint16(it.Body[off+12 : off+14]))
		if location > nameEnd || location < count*types.DirEntryHeadSize {
			return nil, fmt.Errorf("directory entry %d name location %d outside body: %w",
				i, location, types.ErrMalformedStructure)
		}
		end := location
		for end < nameEnd && it.Body[end] != 0 {
			end++
		}
		entry.Name = it.Body[location:end]
		entries = append(entries, entry)
		nameEnd = location
	}
	return entries, nil
}
