package services

import (
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/deploymenttheory/go-reiserfs/internal/parsers/tree"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// MissingRuns returns the wanted sectors that are not rescued yet, as
// sorted, coalesced byte runs in absolute image offsets.
func (s *Session) MissingRuns() ([]rescue.Run, error) {
	idx := make([]int64, 0, len(s.sectors))
	for sector := range s.sectors {
		if !s.reader.SectorFinished(sector) {
			idx = append(idx, sector)
		}
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

// RequestMap builds a mapfile over the whole image that marks every
// missing wanted sector non-tried and everything else finished, ready to
// drive the next ddrescue pass.
func (s *Session) RequestMap() (*rescue.Map, error) {
	runs, err := s.MissingRuns()
	if err != nil {
		return nil, err
	}
	return rescue.RequestMap(runs, s.reader.ImageSize())
}

// BitmapTriage scans the free-space bitmaps and records the sectors a
// rescue should fetch next: the bitmap blocks themselves, and unless
// metadataOnly, every block the bitmaps mark allocated plus every block
// whose state is unknown because its bitmap is missing.
func (s *Session) BitmapTriage(metadataOnly bool) (*BitmapScan, error) {
	scan, err := s.ScanBitmaps()
	if err != nil {
		return nil, err
	}
	if !metadataOnly {
		for _, r := range scan.Used {
			s.wantBlockRange(r)
		}
		for _, r := range scan.Unknown {
			s.wantBlockRange(r)
		}
	}
	return scan, nil
}

func (s *Session) wantBlockRange(r types.BlockRange) {
	for nr := r.Start; nr < r.End(); nr++ {
		if uint64(nr) >= s.reader.TotalBlocks() {
			return
		}
		s.wantBlock(nr)
	}
}

// TreeTriage walks the tree down to the given level, recording the
// sectors of every reachable node. Level 0 includes file data blocks,
// 1 stops at leaves, 2 and above stop at that internal level.
func (s *Session) TreeTriage(level int) (WalkStats, error) {
	if level < 0 || level >= types.MaxTreeHeight {
		return WalkStats{}, fmt.Errorf("tree level %d outside 0..%d: %w",
			level, types.MaxTreeHeight-1, types.ErrOutOfRange)
	}
	return s.WalkTree(level)
}

// FolderStats summarizes a folder triage walk.
type FolderStats struct {
	Directories int
	Files       int
	// Incomplete counts objects whose metadata or content could not be
	// fully reached; their missing sectors are in the wanted set.
	Incomplete int
}

// FolderTriage walks the named directory subtrees, recording the sectors
// needed to recover them. metadataOnly stops at stat data and directory
// structure; otherwise file data blocks are recorded too. Paths in
// excludes (and everything below them) are skipped.
func (s *Session) FolderTriage(paths, excludes []string, metadataOnly bool) (FolderStats, error) {
	var stats FolderStats
	skip := make(map[string]struct{}, len(excludes))
	for _, e := range excludes {
		skip[path.Clean("/"+e)] = struct{}{}
	}
	visited := make(map[uint64]struct{})
	for _, p := range paths {
		obj, err := s.ResolvePath(p)
		if err != nil {
			if errors.Is(err, types.ErrIncomplete) {
				stats.Incomplete++
				continue
			}
			return stats, fmt.Errorf("%s: %w", p, err)
		}
		if err := s.triageObject(path.Clean("/"+p), obj, skip, visited, metadataOnly, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func objectRef(dirID, objectID uint32) uint64 {
	return uint64(dirID)<<32 | uint64(objectID)
}

func (s *Session) triageObject(fullPath string, obj *Object, skip map[string]struct{}, visited map[uint64]struct{}, metadataOnly bool, stats *FolderStats) error {
	if _, excluded := skip[fullPath]; excluded {
		return nil
	}
	// Damaged metadata can link a directory back into its own subtree;
	// an object is triaged at most once.
	ref := objectRef(obj.DirID, obj.ObjectID)
	if _, seen := visited[ref]; seen {
		return nil
	}
	visited[ref] = struct{}{}
	switch obj.Stat.Type {
	case types.FileTypeDirectory:
		stats.Directories++
		entries, complete, err := s.DirectoryList(obj.DirID, obj.ObjectID)
		if err != nil {
			return fmt.Errorf("%s: %w", fullPath, err)
		}
		if !complete {
			stats.Incomplete++
		}
		for i := range entries {
			entry := &entries[i]
			name := string(entry.Name)
			if name == "." || name == ".." {
				continue
			}
			child, err := s.StatObject(entry.DehDirID, entry.DehObjectID)
			if err != nil {
				if errors.Is(err, types.ErrIncomplete) || errors.Is(err, types.ErrNotFound) {
					stats.Incomplete++
					continue
				}
				return fmt.Errorf("%s: %w", path.Join(fullPath, name), err)
			}
			childObj := &Object{DirID: entry.DehDirID, ObjectID: entry.DehObjectID, Stat: child}
			if err := s.triageObject(path.Join(fullPath, name), childObj, skip, visited, metadataOnly, stats); err != nil {
				return err
			}
		}
	case types.FileTypeRegular, types.FileTypeLink:
		stats.Files++
		if metadataOnly {
			return nil
		}
		gaps, blockListOK, err := s.WantObjectData(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", fullPath, err)
		}
		if len(gaps) > 0 || !blockListOK {
			stats.Incomplete++
		}
	default:
		// device nodes, fifos, sockets carry no content beyond stat data
		stats.Files++
	}
	return nil
}

// ListEntry is one row of a directory listing with rescue annotations.
type ListEntry struct {
	Name string
	Type types.FileType
	Size uint64
	// StatMissing means the entry's stat data is unreachable; Type and
	// Size are zero then.
	StatMissing bool
	// BlockListIncomplete means some of the file's item leaves are not
	// rescued, so even the gap accounting is partial.
	BlockListIncomplete bool
	// Complete means the object's content (files) or listing
	// (directories) is fully recoverable right now.
	Complete bool
}

// ListDirectory resolves a path and lists it. For directories every
// entry is annotated with what the rescue map can deliver today; for a
// file a single entry is returned. metadataOnly skips the per-file
// content completeness check, leaving Complete true whenever stat data
// is readable.
func (s *Session) ListDirectory(p string, metadataOnly bool) ([]ListEntry, error) {
	obj, err := s.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	if !obj.IsDir() {
		entry := ListEntry{
			Name:     path.Base(path.Clean("/" + p)),
			Type:     obj.Stat.Type,
			Size:     obj.Stat.Size,
			Complete: true,
		}
		if !metadataOnly && contentObject(obj) {
			gaps, blockListOK, err := s.WantObjectData(obj)
			if err != nil {
				return nil, err
			}
			entry.BlockListIncomplete = !blockListOK
			entry.Complete = len(gaps) == 0 && blockListOK
		}
		return []ListEntry{entry}, nil
	}

	entries, complete, err := s.DirectoryList(obj.DirID, obj.ObjectID)
	if err != nil {
		return nil, err
	}
	list := make([]ListEntry, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		name := string(entry.Name)
		if name == "." || name == ".." {
			continue
		}
		row := ListEntry{Name: name}
		stat, err := s.StatObject(entry.DehDirID, entry.DehObjectID)
		if err != nil {
			if errors.Is(err, types.ErrIncomplete) || errors.Is(err, types.ErrNotFound) {
				row.StatMissing = true
				list = append(list, row)
				continue
			}
			return nil, err
		}
		row.Type = stat.Type
		row.Size = stat.Size
		row.Complete = true
		if !metadataOnly && (stat.Type == types.FileTypeRegular || stat.Type == types.FileTypeLink) {
			child := &Object{DirID: entry.DehDirID, ObjectID: entry.DehObjectID, Stat: stat}
			gaps, blockListOK, err := s.WantObjectData(child)
			if err != nil {
				return nil, err
			}
			row.BlockListIncomplete = !blockListOK
			row.Complete = len(gaps) == 0 && blockListOK
		}
		list = append(list, row)
	}
	if !complete {
		return list, fmt.Errorf("listing of %s is missing entries: %w", p, types.ErrIncomplete)
	}
	return list, nil
}

func contentObject(obj *Object) bool {
	return obj.Stat.Type == types.FileTypeRegular || obj.Stat.Type == types.FileTypeLink
}

// FindName scans every readable leaf for directory entries with the
// given name and returns their full paths, climbing parent chains to
// name even entries whose directories are not reachable from the root
// (lost+found DIRID_OBJID notation). The boolean reports whether every
// leaf could be scanned; missing leaves leave it false and their
// sectors in the wanted set.
func (s *Session) FindName(name string) ([]string, bool, error) {
	if name == "." || name == ".." {
		return nil, false, fmt.Errorf("%q is not a searchable name: %w", name, types.ErrNotFound)
	}
	var matches []string
	stats, err := s.IterateLeaves(func(node *tree.NodeReader) error {
		items, err := node.Items()
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Head.IhKey.Type != types.TypeDirentry {
				continue
			}
			entries, err := item.DirectoryEntries(s.endian)
			if err != nil {
				return err
			}
			for i := range entries {
				if string(entries[i].Name) != name {
					continue
				}
				dir := s.FullName(item.Head.IhKey.DirID, item.Head.IhKey.ObjectID)
				matches = append(matches, path.Join(dir, name))
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	sort.Strings(matches)
	return matches, stats.Incomplete == 0 && stats.Partial == 0, nil
}
