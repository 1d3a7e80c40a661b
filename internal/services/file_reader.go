package services

import (
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// GapRange marks a byte range of reconstructed file content that could
// not be recovered: the bytes there are zero filler, not data. Sparse
// extents are zeros too but are not gaps.
type GapRange struct {
	Offset int64
	Size   int64
}

// ReadObject reconstructs the content of a file or symlink. The returned
// buffer is always exactly stat-size bytes; unrecoverable ranges are zero
// filled and reported as gaps. An empty gap list means the content is
// fully trustworthy.
func (s *Session) ReadObject(obj *Object) ([]byte, []GapRange, error) {
	data, gaps, _, err := s.reconstruct(obj, true)
	return data, gaps, err
}

// WantObjectData walks a file's items and records every metadata and
// data sector the reconstruction would touch, without materializing the
// content. The gaps report what a real read would be missing; the
// boolean reports whether the block list itself (the leaves carrying the
// file's items) was fully readable — false means the gaps may understate
// the damage.
func (s *Session) WantObjectData(obj *Object) ([]GapRange, bool, error) {
	_, gaps, blockListComplete, err := s.reconstruct(obj, false)
	return gaps, blockListComplete, err
}

func (s *Session) reconstruct(obj *Object, materialize bool) ([]byte, []GapRange, bool, error) {
	if obj.Stat.Type != types.FileTypeRegular && obj.Stat.Type != types.FileTypeLink {
		return nil, nil, false, fmt.Errorf("%s is a %s, not file content: %w",
			ObjectLabel(obj.DirID, obj.ObjectID), obj.Stat.Type, types.ErrMalformedStructure)
	}
	size := int64(obj.Stat.Size)
	var buf []byte
	if materialize {
		buf = make([]byte, size)
	}
	if size == 0 {
		return buf, nil, true, nil
	}

	start, end := types.ObjectKey(obj.DirID, obj.ObjectID).BodyRange()
	items, itemsComplete, err := s.ItemsInRange(start, end)
	if err != nil {
		return nil, nil, false, err
	}

	// good accumulates the byte runs that hold real data or legitimate
	// sparse zeros; everything outside it at the end is a gap.
	var good rescue.RangeList
	blockSize := s.reader.BlockSize()

	for _, item := range items {
		// Key offsets are 1-based byte positions within the file.
		pos := int64(item.Head.IhKey.Offset) - 1
		switch item.Head.IhKey.Type {
		case types.TypeDirect:
			n := int64(len(item.Body))
			if pos >= size {
				continue
			}
			if pos+n > size {
				n = size - pos
			}
			if materialize {
				copy(buf[pos:pos+n], item.Body)
			}
			if err := good.Add(pos, n); err != nil {
				return nil, nil, false, fmt.Errorf("%s: overlapping items: %w",
					ObjectLabel(obj.DirID, obj.ObjectID), types.ErrMalformedStructure)
			}
		case types.TypeIndirect:
			blocks, err := item.IndirectBlocks(s.endian)
			if err != nil {
				return nil, nil, false, err
			}
			for i, nr := range blocks {
				bpos := pos + int64(i)*blockSize
				if bpos >= size {
					break
				}
				n := blockSize
				if bpos+n > size {
					n = size - bpos
				}
				if nr == 0 {
					// sparse extent, already zero
					if err := good.Add(bpos, n); err != nil {
						return nil, nil, false, fmt.Errorf("%s: overlapping items: %w",
							ObjectLabel(obj.DirID, obj.ObjectID), types.ErrMalformedStructure)
					}
					continue
				}
				if uint64(nr) >= s.reader.TotalBlocks() {
					return nil, nil, false, fmt.Errorf("%s: data block %d beyond device end: %w",
						ObjectLabel(obj.DirID, obj.ObjectID), nr, types.ErrOutOfRange)
				}
				s.wantDataBlock(nr)
				if !s.reader.BlockComplete(nr) {
					continue // stays a gap
				}
				if materialize {
					data, ok, err := s.reader.ReadBlock(nr)
					if err != nil {
						return nil, nil, false, err
					}
					if !ok {
						continue
					}
					copy(buf[bpos:bpos+n], data)
				}
				if err := good.Add(bpos, n); err != nil {
					return nil, nil, false, fmt.Errorf("%s: overlapping items: %w",
						ObjectLabel(obj.DirID, obj.ObjectID), types.ErrMalformedStructure)
				}
			}
		}
	}

	gaps := complementRuns(good.Runs(), size)
	return buf, gaps, itemsComplete, nil
}

// complementRuns returns the byte ranges of [0, size) not covered by the
// sorted, coalesced runs.
func complementRuns(runs []rescue.Run, size int64) []GapRange {
	var gaps []GapRange
	cursor := int64(0)
	for _, run := range runs {
		if run.Start > cursor {
			gaps = append(gaps, GapRange{Offset: cursor, Size: run.Start - cursor})
		}
		if run.End() > cursor {
			cursor = run.End()
		}
	}
	if cursor < size {
		gaps = append(gaps, GapRange{Offset: cursor, Size: size - cursor})
	}
	return gaps
}
