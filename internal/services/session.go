// Package services implements the filesystem-aware traversal engine:
// tree walking, path resolution and file reconstruction against a
// partially rescued image, plus the request-map builders the command
// layer hands back to ddrescue.
package services

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/deploymenttheory/go-reiserfs/internal/device"
	"github.com/deploymenttheory/go-reiserfs/internal/interfaces"
	"github.com/deploymenttheory/go-reiserfs/internal/parsers/superblock"
	"github.com/deploymenttheory/go-reiserfs/internal/parsers/tree"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// Session owns one traversal run: the decoded superblock, gated image
// access, and the accumulating set of sectors the run needed. Every
// sector the engine touches (or wanted and could not get) is recorded,
// so a request map built afterwards asks for exactly the metadata that
// unlocks further progress.
type Session struct {
	reader interfaces.BlockReader
	sb     interfaces.SuperblockReader
	endian binary.ByteOrder

	// wanted sectors, partition-relative
	sectors map[int64]struct{}

	// metadataOnly keeps file data blocks out of the wanted set, so
	// request maps stay restricted to filesystem structure.
	metadataOnly bool

	// internal nodes get re-read on every root descent; leaves are
	// visited once per walk and not worth holding on to
	nodeCache map[types.BlockNr]cachedNode
}

type cachedNode struct {
	node     *tree.NodeReader
	complete bool
}

// SuperblockRuns returns the image byte runs a rescue must finish before
// a session can start: the sector holding the superblock.
func SuperblockRuns(partitionStart int64) []rescue.Run {
	return []rescue.Run{{Start: partitionStart + types.SuperblockDiskOffset, Size: types.SectorSize}}
}

// NewSession bootstraps a session from the image and its rescue map:
// reads the superblock through the gate, validates it, and sets up
// block-sized access. Returns ErrIncomplete when the superblock sector
// has not been rescued yet.
func NewSession(img *device.Image, rmap *rescue.Map) (*Session, error) {
	boot, err := device.NewGatedReader(img, rmap, types.SectorSize)
	if err != nil {
		return nil, err
	}
	data, ok, err := boot.ReadRange(types.SuperblockDiskOffset, types.SuperblockSize)
	if err != nil {
		return nil, fmt.Errorf("superblock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("superblock sector not rescued yet: %w", types.ErrIncomplete)
	}
	sb, err := superblock.NewSuperblockReader(data, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	reader, err := device.NewGatedReader(img, rmap, sb.BlockSize())
	if err != nil {
		return nil, err
	}
	return NewSessionFromParts(reader, sb), nil
}

// NewSessionFromParts wires a session from pre-built components.
func NewSessionFromParts(reader interfaces.BlockReader, sb interfaces.SuperblockReader) *Session {
	return &Session{
		reader:    reader,
		sb:        sb,
		endian:    binary.LittleEndian,
		sectors:   make(map[int64]struct{}),
		nodeCache: make(map[types.BlockNr]cachedNode),
	}
}

// Superblock returns the session's decoded superblock.
func (s *Session) Superblock() interfaces.SuperblockReader { return s.sb }

// Reader returns the session's gated block reader.
func (s *Session) Reader() interfaces.BlockReader { return s.reader }

func (s *Session) wantSector(sector int64) {
	s.sectors[sector] = struct{}{}
}

// wantBlock records every sector of a block as needed.
func (s *Session) wantBlock(nr types.BlockNr) {
	spb := s.reader.SectorsPerBlock()
	first := int64(nr) * spb
	for off := int64(0); off < spb; off++ {
		s.wantSector(first + off)
	}
}

// wantDataBlock records a file data block as wanted unless the session
// is restricted to metadata.
func (s *Session) wantDataBlock(nr types.BlockNr) {
	if s.metadataOnly {
		return
	}
	s.wantBlock(nr)
}

// SetMetadataOnly restricts subsequent sector recording to filesystem
// structure: file data blocks are read and gap-checked as usual but
// never land in the wanted set.
func (s *Session) SetMetadataOnly(v bool) { s.metadataOnly = v }

// ResetWanted clears the recorded sector set.
func (s *Session) ResetWanted() {
	s.sectors = make(map[int64]struct{})
}

// WantedRuns returns the recorded sectors as sorted, coalesced byte runs
// in absolute image offsets, ready for a request map.
func (s *Session) WantedRuns() ([]rescue.Run, error) {
	idx := make([]int64, 0, len(s.sectors))
	for sector := range s.sectors {
		idx = append(idx, sector)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	var list rescue.RangeList
	base := s.reader.PartitionStart()
	for _, sector := range idx {
		if err := list.Add(base+sector*types.SectorSize, types.SectorSize); err != nil {
			return nil, err
		}
	}
	return list.Runs(), nil
}

// readNode reads a tree node with sector-precise accounting. The block's
// head sector is always recorded as wanted; if it is unread the node is a
// hole: (false, nil, nil). Otherwise the head is decoded and the sectors
// that actually carry keys, pointers, item heads or bodies are recorded
// and checked —  a leaf's middle sectors may be unread garbage without
// making the node incomplete. A decode failure on checked bytes is fatal.
func (s *Session) readNode(nr types.BlockNr) (bool, *tree.NodeReader, error) {
	if cached, ok := s.nodeCache[nr]; ok {
		// Cached nodes already recorded their sectors on first read, but
		// recording must survive ResetWanted between commands.
		s.recordNodeSectors(nr, cached.node)
		return cached.complete, cached.node, nil
	}

	spb := s.reader.SectorsPerBlock()
	firstSector := int64(nr) * spb
	s.wantSector(firstSector)
	if !s.reader.SectorFinished(firstSector) {
		return false, nil, nil
	}
	data, err := s.reader.ReadBlockRaw(nr)
	if err != nil {
		return false, nil, err
	}
	node, err := tree.NewNodeReader(data, nr, s.endian)
	if err != nil {
		return false, nil, err
	}
	complete := s.recordNodeSectors(nr, node)
	if node.Level() > types.LeafLevel {
		s.nodeCache[nr] = cachedNode{node: node, complete: complete}
	}
	return complete, node, nil
}

// recordNodeSectors marks the node's payload sectors wanted and reports
// whether all of them are finished.
func (s *Session) recordNodeSectors(nr types.BlockNr, node *tree.NodeReader) bool {
	front, tail, err := node.PayloadExtents()
	if err != nil {
		// Extents were validated when the node was first decoded.
		return false
	}
	spb := s.reader.SectorsPerBlock()
	firstSector := int64(nr) * spb
	complete := true

	frontSectors := (int64(front) + types.SectorSize - 1) / types.SectorSize
	for off := int64(0); off < frontSectors; off++ {
		s.wantSector(firstSector + off)
		if complete && !s.reader.SectorFinished(firstSector+off) {
			complete = false
		}
	}
	tailSectors := (int64(tail) + types.SectorSize - 1) / types.SectorSize
	for off := spb - tailSectors; off < spb; off++ {
		s.wantSector(firstSector + off)
		if complete && !s.reader.SectorFinished(firstSector+off) {
			complete = false
		}
	}
	return complete
}
