package services

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// Object is a resolved filesystem object: its key identity plus its
// decoded stat data.
type Object struct {
	DirID    uint32
	ObjectID uint32
	Stat     *types.StatT
}

// IsDir reports whether the object is a directory.
func (o *Object) IsDir() bool { return o.Stat.Type == types.FileTypeDirectory }

// ObjectLabel formats the DIRID_OBJID fallback name used for objects
// whose real name is unreachable, and accepted back by ResolvePath.
func ObjectLabel(dirID, objectID uint32) string {
	return fmt.Sprintf("%d_%d", dirID, objectID)
}

func parseObjectLabel(s string) (uint32, uint32, bool) {
	i := strings.IndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return 0, 0, false
	}
	dirID, err := strconv.ParseUint(s[:i], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	objectID, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(dirID), uint32(objectID), true
}

// r5Hash is the kernel's r5 directory name hash. The entry offset stored
// on disk keeps only the hash value bits; the low byte is a collision
// generation counter.
func r5Hash(name []byte) uint32 {
	var a uint32
	for _, c := range name {
		a += uint32(c) << 4
		a += uint32(c) >> 4
		a *= 11
	}
	return a
}

const hashValueMask = 0x7fffff00

// StatObject fetches and decodes the stat-data item of (dirID, objectID).
// Returns ErrNotFound when the leaf is readable but holds no stat item,
// ErrIncomplete when the descent path is not rescued yet.
func (s *Session) StatObject(dirID, objectID uint32) (*types.StatT, error) {
	item, err := s.FindItem(types.ObjectKey(dirID, objectID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("no stat data for %s: %w", ObjectLabel(dirID, objectID), types.ErrNotFound)
	}
	return item.Stat(s.endian)
}

// RootObject resolves the filesystem root directory.
func (s *Session) RootObject() (*Object, error) {
	stat, err := s.StatObject(types.RootParentObjectID, types.RootObjectID)
	if err != nil {
		return nil, err
	}
	return &Object{DirID: types.RootParentObjectID, ObjectID: types.RootObjectID, Stat: stat}, nil
}

// DirectoryList returns the entries of a directory in hash order. The
// boolean reports whether every leaf covering the directory body could
// be read; entries from readable leaves are returned either way.
func (s *Session) DirectoryList(dirID, objectID uint32) ([]types.DirEntryT, bool, error) {
	start, end := types.ObjectKey(dirID, objectID).BodyRange()
	items, complete, err := s.ItemsInRange(start, end)
	if err != nil {
		return nil, false, err
	}
	var entries []types.DirEntryT
	for _, item := range items {
		if item.Head.IhKey.Type != types.TypeDirentry {
			continue
		}
		decoded, err := item.DirectoryEntries(s.endian)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, decoded...)
	}
	return entries, complete, nil
}

// LookupName finds the entry for name in the directory (dirID, objectID).
// When the superblock names the r5 hash, entries are filtered on their
// hash value bits before the literal compare; any other hash code falls
// back to literal comparison only. A missing name in a fully readable
// directory reports ErrNotFound; an unreadable directory body reports
// ErrIncomplete since the name may live in a missing leaf.
func (s *Session) LookupName(dirID, objectID uint32, name string) (*types.DirEntryT, error) {
	entries, complete, err := s.DirectoryList(dirID, objectID)
	if err != nil {
		return nil, err
	}
	want := []byte(name)
	useHash := s.sb.HashFunctionCode() == types.R5Hash && name != "." && name != ".."
	wantHash := r5Hash(want) & hashValueMask

	for i := range entries {
		entry := &entries[i]
		if useHash && entry.DehOffset&hashValueMask != wantHash {
			continue
		}
		if bytes.Equal(entry.Name, want) {
			return entry, nil
		}
	}
	if !complete {
		return nil, fmt.Errorf("directory %s partially rescued while resolving %q: %w",
			ObjectLabel(dirID, objectID), name, types.ErrIncomplete)
	}
	return nil, fmt.Errorf("no entry %q in %s: %w", name, ObjectLabel(dirID, objectID), types.ErrNotFound)
}

// maxNameDepth bounds the upward ".." climb; real trees are nowhere near
// this deep, loops in damaged metadata are.
const maxNameDepth = 256

// FullName returns the absolute path of the directory (dirID, objectID)
// by climbing ".." entries to the root. When the parent chain breaks on
// unrescued or missing metadata, the unresolved prefix collapses to
// DIRID_OBJID lost+found notation.
func (s *Session) FullName(dirID, objectID uint32) string {
	var parts []string
	curDir, curObj := dirID, objectID
	for depth := 0; depth < maxNameDepth; depth++ {
		if curDir == types.RootParentObjectID && curObj == types.RootObjectID {
			return "/" + strings.Join(parts, "/")
		}
		dotdot, err := s.LookupName(curDir, curObj, "..")
		if err != nil {
			break
		}
		name, err := s.nameInParent(dotdot.DehDirID, dotdot.DehObjectID, curDir, curObj)
		if err != nil {
			break
		}
		parts = append([]string{name}, parts...)
		curDir, curObj = dotdot.DehDirID, dotdot.DehObjectID
	}
	return "/" + strings.Join(append([]string{ObjectLabel(curDir, curObj)}, parts...), "/")
}

// nameInParent finds which entry of the parent directory points at the
// child object.
func (s *Session) nameInParent(parentDir, parentObj, childDir, childObj uint32) (string, error) {
	entries, complete, err := s.DirectoryList(parentDir, parentObj)
	if err != nil {
		return "", err
	}
	for i := range entries {
		entry := &entries[i]
		name := string(entry.Name)
		if name == "." || name == ".." {
			continue
		}
		if entry.DehDirID == childDir && entry.DehObjectID == childObj {
			return name, nil
		}
	}
	if !complete {
		return "", fmt.Errorf("parent %s listing truncated: %w",
			ObjectLabel(parentDir, parentObj), types.ErrIncomplete)
	}
	return "", fmt.Errorf("no entry for %s in %s: %w",
		ObjectLabel(childDir, childObj), ObjectLabel(parentDir, parentObj), types.ErrNotFound)
}

// ResolvePath walks a slash-separated path from the root to an object.
// The first component may be a DIRID_OBJID label to anchor the walk at
// an arbitrary object instead of the root. Symlinks are not followed.
func (s *Session) ResolvePath(path string) (*Object, error) {
	parts := make([]string, 0, 8)
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	var current *Object
	if len(parts) > 0 {
		if dirID, objectID, ok := parseObjectLabel(parts[0]); ok {
			stat, err := s.StatObject(dirID, objectID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", parts[0], err)
			}
			current = &Object{DirID: dirID, ObjectID: objectID, Stat: stat}
			parts = parts[1:]
		}
	}
	if current == nil {
		root, err := s.RootObject()
		if err != nil {
			return nil, err
		}
		current = root
	}

	for _, part := range parts {
		if part == "." {
			continue
		}
		if !current.IsDir() {
			return nil, fmt.Errorf("%s is not a directory: %w",
				ObjectLabel(current.DirID, current.ObjectID), types.ErrNotFound)
		}
		entry, err := s.LookupName(current.DirID, current.ObjectID, part)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", part, err)
		}
		stat, err := s.StatObject(entry.DehDirID, entry.DehObjectID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("entry %q points at %s which has no stat data: %w",
					part, ObjectLabel(entry.DehDirID, entry.DehObjectID), types.ErrNotFound)
			}
			return nil, err
		}
		current = &Object{DirID: entry.DehDirID, ObjectID: entry.DehObjectID, Stat: stat}
	}
	return current, nil
}
