package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

func TestReadObjectComplete(t *testing.T) {
	session := newTestSession(t, finishedMap(t))

	obj, err := session.ResolvePath("/hello.txt")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	require.Len(t, data, fxHelloSize)
	assert.True(t, bytes.Equal(data[:fxBlockSize], bytes.Repeat([]byte{'A'}, fxBlockSize)))
	assert.True(t, bytes.Equal(data[fxBlockSize:], bytes.Repeat([]byte{'B'}, fxHelloTailSize)))
}

func TestReadObjectWithMissingDataBlock(t *testing.T) {
	session := newTestSession(t, damagedMap(t, fxDataBlockB))

	obj, err := session.ResolvePath("/hello.txt")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	require.Len(t, data, fxHelloSize, "output length always matches stat size")

	require.Len(t, gaps, 1)
	assert.Equal(t, GapRange{Offset: fxBlockSize, Size: fxHelloTailSize}, gaps[0])

	assert.True(t, bytes.Equal(data[:fxBlockSize], bytes.Repeat([]byte{'A'}, fxBlockSize)))
	assert.True(t, bytes.Equal(data[fxBlockSize:], make([]byte, fxHelloTailSize)),
		"gap bytes are zero filler")

	missing, err := session.MissingRuns()
	require.NoError(t, err)
	assert.True(t, runsCover(missing, int64(fxDataBlockB)*fxBlockSize),
		"the missing data block must land in the request set")
}

func TestReadObjectRejectsDirectories(t *testing.T) {
	session := newTestSession(t, finishedMap(t))

	obj, err := session.ResolvePath("/sub")
	require.NoError(t, err)

	_, _, err = session.ReadObject(obj)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedStructure)
}

func TestWantObjectDataRecordsWithoutReading(t *testing.T) {
	session := newTestSession(t, finishedMap(t))

	obj, err := session.ResolvePath("/hello.txt")
	require.NoError(t, err)

	gaps, blockListOK, err := session.WantObjectData(obj)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.True(t, blockListOK)

	runs, err := session.WantedRuns()
	require.NoError(t, err)
	assert.True(t, runsCover(runs, int64(fxDataBlockA)*fxBlockSize))
	assert.True(t, runsCover(runs, int64(fxDataBlockB)*fxBlockSize))
}

func TestMetadataOnlyKeepsDataOutOfWants(t *testing.T) {
	session := newTestSession(t, finishedMap(t))
	session.SetMetadataOnly(true)

	obj, err := session.ResolvePath("/hello.txt")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.Len(t, data, fxHelloSize, "content still reads in full")

	runs, err := session.WantedRuns()
	require.NoError(t, err)
	assert.False(t, runsCover(runs, int64(fxDataBlockA)*fxBlockSize))
	assert.True(t, runsCover(runs, int64(fxLeafB)*fxBlockSize),
		"metadata sectors stay in the wanted set")
}

func TestWantObjectDataMissingBlockList(t *testing.T) {
	// hello.txt's indirect item lives on leaf B; without it the whole
	// content is a gap and the block list itself is flagged.
	session := newTestSession(t, damagedMap(t, fxLeafB))

	obj, err := session.ResolvePath("/hello.txt")
	require.NoError(t, err)

	gaps, blockListOK, err := session.WantObjectData(obj)
	require.NoError(t, err)
	assert.False(t, blockListOK)
	require.Len(t, gaps, 1)
	assert.Equal(t, GapRange{Offset: 0, Size: fxHelloSize}, gaps[0])
}

func TestReadObjectDirectItem(t *testing.T) {
	session := newSessionOver(t, buildSmallFileImage(), finishedMap(t))

	obj, err := session.ResolvePath("/note.txt")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.Equal(t, []byte(fxNoteBody), data)
}

func TestReadObjectDirectItemLeafMissing(t *testing.T) {
	// note.txt's stat data sits on leaf A but its direct body on leaf B,
	// so the file resolves while its entire content stays a gap.
	session := newSessionOver(t, buildSmallFileImage(), damagedMap(t, fxLeafB))

	obj, err := session.ResolvePath("/note.txt")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	require.Len(t, data, len(fxNoteBody))
	assert.True(t, bytes.Equal(data, make([]byte, len(fxNoteBody))),
		"gap bytes are zero filler")
	require.Len(t, gaps, 1)
	assert.Equal(t, GapRange{Offset: 0, Size: int64(len(fxNoteBody))}, gaps[0])

	_, blockListOK, err := session.WantObjectData(obj)
	require.NoError(t, err)
	assert.False(t, blockListOK)
}

func TestReadObjectIndirectWithTail(t *testing.T) {
	session := newSessionOver(t, buildSmallFileImage(), finishedMap(t))

	obj, err := session.ResolvePath("/tail.bin")
	require.NoError(t, err)

	data, gaps, err := session.ReadObject(obj)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	require.Len(t, data, fxTailFileSize)
	assert.True(t, bytes.Equal(data[:fxBlockSize], bytes.Repeat([]byte{'A'}, fxBlockSize)))
	assert.True(t, bytes.Equal(data[fxBlockSize:], bytes.Repeat([]byte{'T'}, fxTailBytes)),
		"tail bytes come from the direct item")
}

func TestComplementRuns(t *testing.T) {
	gaps := complementRuns(nil, 100)
	assert.Equal(t, []GapRange{{Offset: 0, Size: 100}}, gaps)

	gaps = complementRuns([]rescue.Run{{Start: 10, Size: 20}, {Start: 50, Size: 50}}, 120)
	assert.Equal(t, []GapRange{
		{Offset: 0, Size: 10},
		{Offset: 30, Size: 20},
		{Offset: 100, Size: 20},
	}, gaps)

	gaps = complementRuns(nil, 0)
	assert.Empty(t, gaps)
}
