package bitmap

import (
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// BitmapBlockReader decodes one free-space bitmap block: one bit per
// block in its covered range, LSB first within each byte, bit set
// meaning allocated.
type BitmapBlockReader struct {
	data    []byte
	base    types.BlockNr
	covered uint32
}

// NewBitmapBlockReader wraps the raw bytes of a bitmap block. base is the
// first block the bitmap describes and covered how many blocks of it are
// meaningful; the final bitmap block of a filesystem covers fewer blocks
// than it has bits, and its padding bits are set on disk.
func NewBitmapBlockReader(data []byte, base types.BlockNr, covered uint32) (*BitmapBlockReader, error) {
	if covered == 0 {
		return nil, fmt.Errorf("bitmap block at base %d covers no blocks: %w", base, types.ErrMalformedStructure)
	}
	if uint32(len(data))*8 < covered {
		return nil, fmt.Errorf("bitmap block too small: %d bytes cover %d blocks, need %d: %w",
			len(data), uint32(len(data))*8, covered, types.ErrMalformedStructure)
	}
	return &BitmapBlockReader{data: data, base: base, covered: covered}, nil
}

// Base returns the first block number the bitmap describes.
func (br *BitmapBlockReader) Base() types.BlockNr { return br.base }

// Covered returns the block range the bitmap describes.
func (br *BitmapBlockReader) Covered() types.BlockRange {
	return types.BlockRange{Start: br.base, Count: br.covered}
}

// IsUsed reports whether the idx-th covered block is allocated.
func (br *BitmapBlockReader) IsUsed(idx uint32) bool {
	return br.data[idx/8]&(1<<(idx%8)) != 0
}

// UsedRuns returns the allocated blocks as ordered, maximal runs.
// Identical bitmap bytes always yield identical runs.
func (br *BitmapBlockReader) UsedRuns() []types.BlockRange {
	var runs []types.BlockRange
	for idx := uint32(0); idx < br.covered; idx++ {
		if !br.IsUsed(idx) {
			continue
		}
		start := br.base + types.BlockNr(idx)
		if n := len(runs); n > 0 && runs[n-1].End() == start {
			runs[n-1].Count++
			continue
		}
		runs = append(runs, types.BlockRange{Start: start, Count: 1})
	}
	return runs
}

// UsedCount returns the number of allocated blocks in the covered range.
func (br *BitmapBlockReader) UsedCount() uint32 {
	var count uint32
	for idx := uint32(0); idx < br.covered; idx++ {
		if br.IsUsed(idx) {
			count++
		}
	}
	return count
}
