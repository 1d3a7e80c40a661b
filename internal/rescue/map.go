// Package rescue models GNU ddrescue mapfiles: an ordered, gap-free
// partition of the image's byte range into read-status regions. The map is
// the tool's single source of truth for which bytes of the image are
// trustworthy, and the format in which block requests are handed back to
// ddrescue via --domain-mapfile.
package rescue

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status is a ddrescue region status character.
type Status byte

const (
	StatusNonTried   Status = '?' // never attempted
	StatusNonTrimmed Status = '*' // failed, not yet trimmed
	StatusNonScraped Status = '/' // trimmed, not yet scraped
	StatusBad        Status = '-' // confirmed bad sectors
	StatusFinished   Status = '+' // successfully read
)

// Valid reports whether s is one of the five ddrescue status codes.
func (s Status) Valid() bool {
	switch s {
	case StatusNonTried, StatusNonTrimmed, StatusNonScraped, StatusBad, StatusFinished:
		return true
	}
	return false
}

func (s Status) String() string { return string(rune(s)) }

// rank orders statuses from least to most specific knowledge about the
// range: untried, failed-untrimmed, failed-unscraped, confirmed bad, read.
func (s Status) rank() int {
	switch s {
	case StatusNonTried:
		return 0
	case StatusNonTrimmed:
		return 1
	case StatusNonScraped:
		return 2
	case StatusBad:
		return 3
	case StatusFinished:
		return 4
	}
	return -1
}

// Region is one contiguous run of bytes sharing a status.
type Region struct {
	Start  int64
	Size   int64
	Status Status
}

// End returns one past the last byte of the region.
func (r Region) End() int64 { return r.Start + r.Size }

// Map is a parsed mapfile. Regions are sorted by start, non-overlapping,
// and cover [0, Size()) exactly; adjacent regions never share a status
// (canonical form).
type Map struct {
	regions []Region

	// Status line carried through from the source file. Request maps
	// built by this tool use pos 0, status not-tried, pass 1.
	pos     int64
	current Status
	pass    int
}

// NewMap builds a Map from regions, enforcing the coverage invariant.
func NewMap(regions []Region) (*Map, error) {
	m := &Map{regions: canonicalize(regions), current: StatusNonTried, pass: 1}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Map) validate() error {
	if len(m.regions) == 0 {
		return fmt.Errorf("mapfile describes no regions")
	}
	if m.regions[0].Start != 0 {
		return fmt.Errorf("map does not start at offset 0 (starts at %d)", m.regions[0].Start)
	}
	for i, r := range m.regions {
		if r.Size <= 0 {
			return fmt.Errorf("region %d at offset %d has non-positive size %d", i, r.Start, r.Size)
		}
		if !r.Status.Valid() {
			return fmt.Errorf("region %d at offset %d has unknown status %q", i, r.Start, r.Status)
		}
		if i > 0 && r.Start != m.regions[i-1].End() {
			return fmt.Errorf("map has a gap or overlap between offsets %d and %d", m.regions[i-1].End(), r.Start)
		}
	}
	return nil
}

// canonicalize coalesces adjacent regions with identical status.
func canonicalize(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if n := len(out); n > 0 && out[n-1].Status == r.Status && out[n-1].End() == r.Start {
			out[n-1].Size += r.Size
			continue
		}
		out = append(out, r)
	}
	return out
}

// Size returns the total number of bytes the map covers.
func (m *Map) Size() int64 {
	return m.regions[len(m.regions)-1].End()
}

// Regions returns a copy of the region list.
func (m *Map) Regions() []Region {
	out := make([]Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// StatusAt returns the status covering the byte at off.
func (m *Map) StatusAt(off int64) (Status, error) {
	if off < 0 || off >= m.Size() {
		return 0, fmt.Errorf("offset %d outside mapped range [0, %d)", off, m.Size())
	}
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > off
	})
	return m.regions[i].Status, nil
}

// IsFinished reports whether every byte of [start, start+length) has been
// successfully read. Ranges reaching outside the map are not finished.
func (m *Map) IsFinished(start, length int64) bool {
	if length <= 0 {
		return true
	}
	if start < 0 || start+length > m.Size() {
		return false
	}
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > start
	})
	end := start + length
	for ; i < len(m.regions) && m.regions[i].Start < end; i++ {
		if m.regions[i].Status != StatusFinished {
			return false
		}
	}
	return true
}

// FinishedRuns returns the maximal read-complete byte runs in order.
func (m *Map) FinishedRuns() []Run {
	var runs []Run
	for _, r := range m.regions {
		if r.Status == StatusFinished {
			if n := len(runs); n > 0 && runs[n-1].End() == r.Start {
				runs[n-1].Size += r.Size
				continue
			}
			runs = append(runs, Run{Start: r.Start, Size: r.Size})
		}
	}
	return runs
}

// MergePolicy combines the statuses two maps assign to the same byte.
type MergePolicy func(a, b Status) Status

// PreferFiner keeps whichever status carries more knowledge about the
// byte: finished beats bad beats unscraped beats untrimmed beats untried.
// The workflow use is subtracting an earlier rescue attempt's map from a
// newer one without losing confirmed-read or confirmed-bad verdicts.
func PreferFiner(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Merge combines two maps of equal size pointwise under policy.
func Merge(a, b *Map, policy MergePolicy) (*Map, error) {
	if a.Size() != b.Size() {
		return nil, fmt.Errorf("cannot merge maps of different sizes: %d vs %d", a.Size(), b.Size())
	}
	var (
		out  []Region
		i, j int
		pos  int64
	)
	for pos < a.Size() {
		ra, rb := a.regions[i], b.regions[j]
		end := ra.End()
		if rb.End() < end {
			end = rb.End()
		}
		out = append(out, Region{Start: pos, Size: end - pos, Status: policy(ra.Status, rb.Status)})
		pos = end
		if ra.End() == pos {
			i++
		}
		if rb.End() == pos {
			j++
		}
	}
	return NewMap(out)
}

// Parse reads a ddrescue mapfile: comment lines, one status line
// (current position, current status, optional pass), then one
// "pos size status" triple per region. Offsets may be decimal or 0x hex.
func Parse(r io.Reader) (*Map, error) {
	m := &Map{current: StatusNonTried, pass: 1}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sawStatusLine := false
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if !sawStatusLine {
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: malformed status line %q", lineNo, line)
			}
			pos, err := parseOffset(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad current position: %w", lineNo, err)
			}
			st, err := parseStatus(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m.pos, m.current = pos, st
			if len(fields) >= 3 {
				pass, err := strconv.Atoi(fields[2])
				if err != nil {
					return nil, fmt.Errorf("line %d: bad pass number %q", lineNo, fields[2])
				}
				m.pass = pass
			}
			sawStatusLine = true
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected \"pos size status\", got %q", lineNo, line)
		}
		start, err := parseOffset(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad position: %w", lineNo, err)
		}
		size, err := parseOffset(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad size: %w", lineNo, err)
		}
		st, err := parseStatus(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		m.regions = append(m.regions, Region{Start: start, Size: size, Status: st})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapfile: %w", err)
	}
	if !sawStatusLine {
		return nil, fmt.Errorf("mapfile has no status line")
	}
	m.regions = canonicalize(m.regions)
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseOffset(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative offset %q", s)
	}
	return v, nil
}

func parseStatus(s string) (Status, error) {
	if len(s) != 1 || !Status(s[0]).Valid() {
		return 0, fmt.Errorf("unknown status code %q", s)
	}
	return Status(s[0]), nil
}

// Write emits the map in ddrescue mapfile form, tagged with a run id so
// separately generated request maps can be told apart.
func (m *Map) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Mapfile. Created by go-reiserfs (run %s)\n", uuid.NewString())
	fmt.Fprintf(bw, "# current_pos  current_status  current_pass\n")
	fmt.Fprintf(bw, "0x%08X     %s               %d\n", m.pos, m.current, m.pass)
	fmt.Fprintf(bw, "#      pos        size  status\n")
	for _, r := range m.regions {
		fmt.Fprintf(bw, "0x%08X  0x%08X  %s\n", r.Start, r.Size, r.Status)
	}
	return bw.Flush()
}
