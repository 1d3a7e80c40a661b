package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

// Keys are 16 bytes on disk: dir id, object id, then a 64-bit field
// packing offset and item type. Format 3.5 keys split that field into a
// 32-bit offset and a 32-bit uniqueness value; 3.6 keys use a 60-bit
// offset with the type in the top nibble.

// DecodeKey decodes a key of a known format, as used inside item heads
// where the head's version field settles the encoding.
func DecodeKey(data []byte, format types.KeyFormat, endian binary.ByteOrder) (types.Key, error) {
	if len(data) < types.KeySize {
		return types.Key{}, fmt.Errorf("key truncated at %d bytes: %w", len(data), types.ErrMalformedStructure)
	}
	key := types.Key{
		DirID:    endian.Uint32(data[0:4]),
		ObjectID: endian.Uint32(data[4:8]),
		Format:   format,
	}
	offsetType := endian.Uint64(data[8:16])
	if format == types.KeyFormat35 {
		key.Offset = offsetType & 0xFFFFFFFF
		itemType, err := uniquenessToType(uint32(offsetType >> 32))
		if err != nil {
			return types.Key{}, err
		}
		key.Type = itemType
		return key, nil
	}
	key.Offset = offsetType & 0x0FFFFFFFFFFFFFFF
	key.Type = types.ItemType(offsetType >> 60)
	if !validItemType(key.Type) {
		return types.Key{}, fmt.Errorf("key with invalid item type %d: %w", key.Type, types.ErrMalformedStructure)
	}
	return key, nil
}

// DecodeKeyDetect decodes a key whose format is not recorded anywhere,
// as inside internal nodes. The kernel's convention: if the top nibble of
// the offset field is a valid 3.6 body type, the key is 3.6; stat-data
// and "any" nibbles are ambiguous and read as 3.5.
func DecodeKeyDetect(data []byte, endian binary.ByteOrder) (types.Key, error) {
	if len(data) < types.KeySize {
		return types.Key{}, fmt.Errorf("key truncated at %d bytes: %w", len(data), types.ErrMalformedStructure)
	}
	nibble := types.ItemType(endian.Uint64(data[8:16]) >> 60)
	switch nibble {
	case types.TypeIndirect, types.TypeDirect, types.TypeDirentry:
		return DecodeKey(data, types.KeyFormat36, endian)
	}
	return DecodeKey(data, types.KeyFormat35, endian)
}

func uniquenessToType(u uint32) (types.ItemType, error) {
	switch u {
	case types.V1StatDataUniqueness:
		return types.TypeStatData, nil
	case types.V1IndirectUniqueness:
		return types.TypeIndirect, nil
	case types.V1DirectUniqueness:
		return types.TypeDirect, nil
	case types.V1DirentryUniqueness:
		return types.TypeDirentry, nil
	case types.V1AnyUniqueness:
		return types.TypeAny, nil
	}
	return 0, fmt.Errorf("key with unknown uniqueness value %d: %w", u, types.ErrMalformedStructure)
}

func validItemType(t types.ItemType) bool {
	switch t {
	case types.TypeStatData, types.TypeIndirect, types.TypeDirect, types.TypeDirentry, types.TypeAny:
		return true
	}
	return false
}
