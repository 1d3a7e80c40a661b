package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// NodeReader decodes one formatted tree node block. Internal nodes carry
// n keys and n+1 child pointers; leaves carry item heads at the front and
// item bodies packed toward the end of the block.
type NodeReader struct {
	data    []byte
	head    types.BlockHeadT
	blockNr types.BlockNr
	endian  binary.ByteOrder
}

// NewNodeReader validates the block head of a node read from blockNr.
// The bytes are assumed trustworthy (they passed the rescue-map gate), so
// invalid structure here is fatal for the traversal, not skippable.
func NewNodeReader(data []byte, blockNr types.BlockNr, endian binary.ByteOrder) (*NodeReader, error) {
	if len(data) < types.BlockHeadSize {
		return nil, fmt.Errorf("block %d too small for a node head: %d bytes: %w",
			blockNr, len(data), types.ErrMalformedStructure)
	}
	nr := &NodeReader{
		data:    data,
		blockNr: blockNr,
		endian:  endian,
		head: types.BlockHeadT{
			BlkLevel:     endian.Uint16(data[0:2]),
			BlkNrItem:    endian.Uint16(data[2:4]),
			BlkFreeSpace: endian.Uint16(data[4:6]),
		},
	}
	if err := nr.validate(); err != nil {
		return nil, err
	}
	return nr, nil
}

func (nr *NodeReader) validate() error {
	h := nr.head
	if h.BlkLevel < types.LeafLevel || h.BlkLevel > types.MaxTreeHeight {
		return fmt.Errorf("block %d: node level %d outside [%d, %d]: %w",
			nr.blockNr, h.BlkLevel, types.LeafLevel, types.MaxTreeHeight, types.ErrMalformedStructure)
	}
	if int(h.BlkFreeSpace) > len(nr.data)-types.BlockHeadSize {
		return fmt.Errorf("block %d: free space %d exceeds node payload: %w",
			nr.blockNr, h.BlkFreeSpace, types.ErrMalformedStructure)
	}
	var need int
	if nr.IsLeaf() {
		need = types.BlockHeadSize + int(h.BlkNrItem)*types.ItemHeadSize
	} else {
		need = types.BlockHeadSize + int(h.BlkNrItem)*types.KeySize + (int(h.BlkNrItem)+1)*types.DiskChildSize
	}
	if need > len(nr.data) {
		return fmt.Errorf("block %d: %d items do not fit a %d-byte node: %w",
			nr.blockNr, h.BlkNrItem, len(nr.data), types.ErrMalformedStructure)
	}
	return nil
}

// BlockNr returns the block the node was read from.
func (nr *NodeReader) BlockNr() types.BlockNr { return nr.blockNr }

// Level returns the node's tree level: 1 for leaves, 2+ internal.
func (nr *NodeReader) Level() uint16 { return nr.head.BlkLevel }

// ItemCount returns the number of items (leaf) or keys (internal).
func (nr *NodeReader) ItemCount() uint16 { return nr.head.BlkNrItem }

// FreeSpace returns the node's unused byte count.
func (nr *NodeReader) FreeSpace() uint16 { return nr.head.BlkFreeSpace }

// IsLeaf reports whether the node is a leaf.
func (nr *NodeReader) IsLeaf() bool { return nr.head.BlkLevel == types.LeafLevel }

// PayloadExtents returns how many meaningful bytes sit at the front of
// the block and how many at its tail. Leaves pack item bodies toward the
// end, so sectors in the middle may be garbage without making the node
// incomplete; the walker uses these extents for sector-precise
// completeness checks.
func (nr *NodeReader) PayloadExtents() (front, tail int, err error) {
	if nr.IsLeaf() {
		front = types.BlockHeadSize + int(nr.head.BlkNrItem)*types.ItemHeadSize
		tail = len(nr.data) - front - int(nr.head.BlkFreeSpace)
		if tail < 0 {
			return 0, 0, fmt.Errorf("block %d: item heads, bodies and free space exceed the block: %w",
				nr.blockNr, types.ErrMalformedStructure)
		}
		return front, tail, nil
	}
	return len(nr.data) - int(nr.head.BlkFreeSpace), 0, nil
}

// Keys returns an internal node's delimiting keys in on-disk order.
func (nr *NodeReader) Keys() ([]types.Key, error) {
	if nr.IsLeaf() {
		return nil, fmt.Errorf("block %d: leaf nodes have no delimiting keys: %w", nr.blockNr, types.ErrMalformedStructure)
	}
	keys := make([]types.Key, nr.head.BlkNrItem)
	for i := range keys {
		off := types.BlockHeadSize + i*types.KeySize
		key, err := DecodeKeyDetect(nr.data[off:off+types.KeySize], nr.endian)
		if err != nil {
			return nil, fmt.Errorf("block %d key %d: %w", nr.blockNr, i, err)
		}
		keys[i] = key
	}
	return keys, nil
}

// ChildPointers returns an internal node's child block numbers in order.
func (nr *NodeReader) ChildPointers() ([]types.BlockNr, error) {
	if nr.IsLeaf() {
		return nil, fmt.Errorf("block %d: leaf nodes have no children: %w", nr.blockNr, types.ErrMalformedStructure)
	}
	base := types.BlockHeadSize + int(nr.head.BlkNrItem)*types.KeySize
	children := make([]types.BlockNr, nr.head.BlkNrItem+1)
	for i := range children {
		off := base + i*types.DiskChildSize
		children[i] = types.BlockNr(nr.endian.Uint32(nr.data[off : off+4]))
	}
	return children, nil
}

// ChildFor returns the child block whose subtree may hold key. Keys equal
// to a delimiting key belong to the right subtree: the delimiter is the
// first key of the child it points at.
func (nr *NodeReader) ChildFor(key types.Key) (types.BlockNr, error) {
	keys, err := nr.Keys()
	if err != nil {
		return 0, err
	}
	children, err := nr.ChildPointers()
	if err != nil {
		return 0, err
	}
	i := 0
	for i < len(keys) && keys[i].Compare(key) <= 0 {
		i++
	}
	return children[i], nil
}

// ChildrenInRange returns the child blocks whose subtrees may hold keys
// in [start, end).
func (nr *NodeReader) ChildrenInRange(start, end types.Key) ([]types.BlockNr, error) {
	keys, err := nr.Keys()
	if err != nil {
		return nil, err
	}
	children, err := nr.ChildPointers()
	if err != nil {
		return nil, err
	}
	lo := 0
	for lo < len(keys) && keys[lo].Compare(start) <= 0 {
		lo++
	}
	hi := lo
	for hi < len(keys) && keys[hi].Compare(end) < 0 {
		hi++
	}
	return children[lo : hi+1], nil
}

// ItemHeaders returns a leaf's item heads in on-disk (key) order.
func (nr *NodeReader) ItemHeaders() ([]types.ItemHeadT, error) {
	if !nr.IsLeaf() {
		return nil, fmt.Errorf("block %d: internal nodes have no items: %w", nr.blockNr, types.ErrMalformedStructure)
	}
	heads := make([]types.ItemHeadT, nr.head.BlkNrItem)
	for i := range heads {
		off := types.BlockHeadSize + i*types.ItemHeadSize
		version := nr.endian.Uint16(nr.data[off+22 : off+24])
		format := types.KeyFormat35
		if version != 0 {
			format = types.KeyFormat36
		}
		key, err := DecodeKey(nr.data[off:off+types.KeySize], format, nr.endian)
		if err != nil {
			return nil, fmt.Errorf("block %d item %d: %w", nr.blockNr, i, err)
		}
		heads[i] = types.ItemHeadT{
			IhKey:          key,
			IhCount:        nr.endian.Uint16(nr.data[off+16 : off+18]),
			IhItemLen:      nr.endian.Uint16(nr.data[off+18 : off+20]),
			IhItemLocation: nr.endian.Uint16(nr.data[off+20 : off+22]),
			IhVersion:      version,
		}
	}
	return heads, nil
}

func (nr *NodeReader) itemBody(head types.ItemHeadT, idx int) ([]byte, error) {
	start := int(head.IhItemLocation)
	end := start + int(head.IhItemLen)
	if start < types.BlockHeadSize || end > len(nr.data) {
		return nil, fmt.Errorf("block %d item %d: body [%d, %d) outside block: %w",
			nr.blockNr, idx, start, end, types.ErrMalformedStructure)
	}
	return nr.data[start:end], nil
}

// Items returns a leaf's items with their bodies.
func (nr *NodeReader) Items() ([]Item, error) {
	heads, err := nr.ItemHeaders()
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(heads))
	for i, head := range heads {
		body, err := nr.itemBody(head, i)
		if err != nil {
			return nil, err
		}
		items[i] = Item{Head: head, Body: body}
	}
	return items, nil
}

// FindItem returns the leaf item with exactly this key, or nil.
func (nr *NodeReader) FindItem(key types.Key) (*Item, error) {
	heads, err := nr.ItemHeaders()
	if err != nil {
		return nil, err
	}
	for i, head := range heads {
		if head.IhKey.Compare(key) != 0 {
			continue
		}
		body, err := nr.itemBody(head, i)
		if err != nil {
			return nil, err
		}
		return &Item{Head: head, Body: body}, nil
	}
	return nil, nil
}

// ItemsInRange returns the leaf items whose keys fall in [start, end).
func (nr *NodeReader) ItemsInRange(start, end types.Key) ([]Item, error) {
	heads, err := nr.ItemHeaders()
	if err != nil {
		return nil, err
	}
	var items []Item
	for i, head := range heads {
		if head.IhKey.Compare(start) < 0 || head.IhKey.Compare(end) >= 0 {
			continue
		}
		body, err := nr.itemBody(head, i)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Head: head, Body: body})
	}
	return items, nil
}

// IndirectItemBlocks returns every data block referenced by the leaf's
// indirect items, in item order, including zero entries (sparse holes).
func (nr *NodeReader) IndirectItemBlocks() ([]types.BlockNr, error) {
	items, err := nr.Items()
	if err != nil {
		return nil, err
	}
	var blocks []types.BlockNr
	for _, item := range items {
		if item.Head.IhKey.Type != types.TypeIndirect {
			continue
		}
		refs, err := item.IndirectBlocks(nr.endian)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", nr.blockNr, err)
		}
		blocks = append(blocks, refs...)
	}
	return blocks, nil
}
