package services

import (
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/parsers/bitmap"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// BitmapScan is the outcome of reading the free-space bitmaps: block
// runs known to be allocated, runs whose state is unknown because their
// bitmap block is not rescued, and the missing bitmap blocks themselves.
type BitmapScan struct {
	Used           []types.BlockRange
	Unknown        []types.BlockRange
	MissingBitmaps []types.BlockNr
}

// ScanBitmaps reads every free-space bitmap block and classifies the
// blocks they cover. Bitmap block sectors are recorded as wanted, so a
// request map built after a scan asks for the missing bitmaps.
func (s *Session) ScanBitmaps() (*BitmapScan, error) {
	blockCount := s.sb.BlockCount()
	bitsPerBlock := uint32(s.reader.BlockSize()) * 8

	scan := &BitmapScan{}
	for i, nr := range s.sb.BitmapBlocks() {
		base := types.BlockNr(uint32(i) * bitsPerBlock)
		covered := blockCount - uint32(base)
		if covered > bitsPerBlock {
			covered = bitsPerBlock
		}
		if uint64(nr) >= s.reader.TotalBlocks() {
			return nil, fmt.Errorf("bitmap block %d beyond device end: %w", nr, types.ErrOutOfRange)
		}
		s.wantBlock(nr)
		data, ok, err := s.reader.ReadBlock(nr)
		if err != nil {
			return nil, err
		}
		if !ok {
			scan.MissingBitmaps = append(scan.MissingBitmaps, nr)
			scan.Unknown = append(scan.Unknown, types.BlockRange{Start: base, Count: covered})
			continue
		}
		br, err := bitmap.NewBitmapBlockReader(data, base, covered)
		if err != nil {
			return nil, fmt.Errorf("bitmap block %d: %w", nr, err)
		}
		scan.Used = append(scan.Used, br.UsedRuns()...)
	}
	return scan, nil
}

// UsedBlockCount sums the blocks of the used runs.
func (sc *BitmapScan) UsedBlockCount() uint64 {
	var n uint64
	for _, r := range sc.Used {
		n += uint64(r.Count)
	}
	return n
}

// UnknownBlockCount sums the blocks whose allocation state is unknown.
func (sc *BitmapScan) UnknownBlockCount() uint64 {
	var n uint64
	for _, r := range sc.Unknown {
		n += uint64(r.Count)
	}
	return n
}
