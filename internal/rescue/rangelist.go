package rescue

import "fmt"

// Run is a plain byte range with no status attached.
type Run struct {
	Start int64
	Size  int64
}

// End returns one past the last byte of the run.
func (r Run) End() int64 { return r.Start + r.Size }

// RangeList accumulates target byte runs in ascending start order,
// coalescing adjacent or overlapping additions. Overlap can happen when
// data-block runs and metadata-sector runs are folded together; a byte
// requested twice still counts once.
type RangeList struct {
	runs []Run
}

// Add appends [start, start+size). Starts must not go backwards.
func (l *RangeList) Add(start, size int64) error {
	if size <= 0 {
		return fmt.Errorf("non-positive run size %d at %d", size, start)
	}
	if n := len(l.runs); n > 0 {
		last := &l.runs[n-1]
		if start < last.Start {
			return fmt.Errorf("run at %d added after run at %d; ranges must be added in order", start, last.Start)
		}
		if start <= last.End() {
			if end := start + size; end > last.End() {
				last.Size = end - last.Start
			}
			return nil
		}
	}
	l.runs = append(l.runs, Run{Start: start, Size: size})
	return nil
}

// Runs returns the accumulated runs.
func (l *RangeList) Runs() []Run { return l.runs }

// RequestMap builds a domain mapfile asking ddrescue to (re)read exactly
// the accumulated runs: targets are marked not-tried, everything else
// finished. Runs beyond imageSize are clipped.
func RequestMap(runs []Run, imageSize int64) (*Map, error) {
	var regions []Region
	pos := int64(0)
	for _, run := range runs {
		start, end := run.Start, run.End()
		if start < 0 {
			start = 0
		}
		if end > imageSize {
			end = imageSize
		}
		if end <= start || end <= pos {
			continue
		}
		if start < pos {
			start = pos
		}
		if start > pos {
			regions = append(regions, Region{Start: pos, Size: start - pos, Status: StatusFinished})
		}
		regions = append(regions, Region{Start: start, Size: end - start, Status: StatusNonTried})
		pos = end
	}
	if pos < imageSize {
		regions = append(regions, Region{Start: pos, Size: imageSize - pos, Status: StatusFinished})
	}
	return NewMap(regions)
}
