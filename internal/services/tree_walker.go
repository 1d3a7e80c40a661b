package services

import (
	"container/heap"
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/parsers/tree"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// WalkStats summarizes one tree walk: how many nodes were fully read,
// how many were holes, and how many were partially rescued (head read,
// payload missing).
type WalkStats struct {
	Found      int
	Incomplete int
	Partial    int
}

type blockHeap []types.BlockNr

func (h blockHeap) Len() int            { return len(h) }
func (h blockHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h blockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x interface{}) { *h = append(*h, x.(types.BlockNr)) }
func (h *blockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// WalkTree visits every reachable tree node above levelLimit, recording
// their sectors as wanted. levelLimit 0 additionally records the data
// blocks referenced by indirect items; 1 stops at leaves; 2 and up stop
// at internal nodes of that level.
func (s *Session) WalkTree(levelLimit int) (WalkStats, error) {
	return s.walk(levelLimit, nil)
}

// IterateLeaves walks the whole tree and calls fn on every completely
// readable leaf. Stats report how many leaves the rescue map withheld.
func (s *Session) IterateLeaves(fn func(*tree.NodeReader) error) (WalkStats, error) {
	return s.walk(types.LeafLevel, fn)
}

// walk is the shared traversal. Visiting order favors seek locality:
// forward pointers are taken in the current pass, backward pointers are
// deferred to the next pass, blocks ascending within each.
func (s *Session) walk(levelLimit int, onLeaf func(*tree.NodeReader) error) (WalkStats, error) {
	var stats WalkStats
	root := types.BlockNr(s.sb.RootBlock())

	visited := map[types.BlockNr]struct{}{root: {}}
	current := &blockHeap{root}
	heap.Init(current)
	next := &blockHeap{}

	enqueue := func(cursor, child types.BlockNr) error {
		if uint64(child) >= s.reader.TotalBlocks() {
			return fmt.Errorf("child pointer %d beyond device end: %w", child, types.ErrOutOfRange)
		}
		if _, seen := visited[child]; seen {
			return nil
		}
		visited[child] = struct{}{}
		if child > cursor {
			heap.Push(current, child)
		} else {
			heap.Push(next, child)
		}
		return nil
	}

	for current.Len() > 0 {
		nr := heap.Pop(current).(types.BlockNr)

		complete, node, err := s.readNode(nr)
		if err != nil {
			return stats, fmt.Errorf("block %d: %w", nr, err)
		}
		if node == nil {
			stats.Incomplete++
			continue
		}
		if complete {
			stats.Found++
		} else {
			stats.Partial++
		}

		if node.IsLeaf() {
			if levelLimit == 0 && complete {
				if err := s.wantLeafData(node); err != nil {
					return stats, fmt.Errorf("block %d: %w", nr, err)
				}
			}
			if onLeaf != nil && complete {
				if err := onLeaf(node); err != nil {
					return stats, fmt.Errorf("block %d: %w", nr, err)
				}
			}
		} else if complete && int(node.Level()) > levelLimit {
			// partial internal nodes are counted but never descended:
			// their child pointers may sit in unread sectors
			children, err := node.ChildPointers()
			if err != nil {
				return stats, fmt.Errorf("block %d: %w", nr, err)
			}
			for _, child := range children {
				if err := enqueue(nr, child); err != nil {
					return stats, err
				}
			}
		}

		if current.Len() == 0 && next.Len() > 0 {
			current, next = next, current
		}
	}
	return stats, nil
}

// wantLeafData records the data blocks of every indirect item on a leaf.
func (s *Session) wantLeafData(node *tree.NodeReader) error {
	blocks, err := node.IndirectItemBlocks()
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if b == 0 {
			continue // sparse extent
		}
		if uint64(b) >= s.reader.TotalBlocks() {
			return fmt.Errorf("data block %d beyond device end: %w", b, types.ErrOutOfRange)
		}
		s.wantDataBlock(b)
	}
	return nil
}

// FindItem descends from the root to the leaf covering key and returns
// the exact item, or nil when the leaf is readable but holds no such
// item. A hole on the descent path returns ErrIncomplete.
func (s *Session) FindItem(key types.Key) (*tree.Item, error) {
	nr := types.BlockNr(s.sb.RootBlock())
	for depth := 0; depth < types.MaxTreeHeight+1; depth++ {
		complete, node, err := s.readNode(nr)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", nr, err)
		}
		if node == nil {
			return nil, fmt.Errorf("block %d unread on descent: %w", nr, types.ErrIncomplete)
		}
		if !complete {
			return nil, fmt.Errorf("block %d partially rescued: %w", nr, types.ErrIncomplete)
		}
		if node.IsLeaf() {
			return node.FindItem(key)
		}
		child, err := node.ChildFor(key)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", nr, err)
		}
		nr = child
	}
	return nil, fmt.Errorf("descent exceeded max tree height: %w", types.ErrMalformedStructure)
}

// ItemsInRange collects every item with start <= key < end across all
// leaves covering the range. The boolean reports whether every involved
// node could be read completely; items from readable leaves are returned
// either way.
func (s *Session) ItemsInRange(start, end types.Key) ([]tree.Item, bool, error) {
	var items []tree.Item
	complete := true

	work := []types.BlockNr{types.BlockNr(s.sb.RootBlock())}
	visited := map[types.BlockNr]struct{}{work[0]: {}}

	for len(work) > 0 {
		nr := work[0]
		work = work[1:]

		nodeComplete, node, err := s.readNode(nr)
		if err != nil {
			return nil, false, fmt.Errorf("block %d: %w", nr, err)
		}
		if node == nil {
			complete = false
			continue
		}
		if !nodeComplete {
			complete = false
			continue
		}
		if node.IsLeaf() {
			leafItems, err := node.ItemsInRange(start, end)
			if err != nil {
				return nil, false, fmt.Errorf("block %d: %w", nr, err)
			}
			items = append(items, leafItems...)
			continue
		}
		children, err := node.ChildrenInRange(start, end)
		if err != nil {
			return nil, false, fmt.Errorf("block %d: %w", nr, err)
		}
		for _, child := range children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			work = append(work, child)
		}
	}
	return items, complete, nil
}
