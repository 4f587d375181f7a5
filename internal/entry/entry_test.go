package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeUnknownUntilSet(t *testing.T) {
	e := New("a")
	assert.False(t, e.SizeKnown())
	e.SetSize(10)
	assert.True(t, e.SizeKnown())
	assert.Equal(t, int64(10), e.Size())
	e.UnsetSize()
	assert.False(t, e.SizeKnown())
}

func TestAddSparseMergesAndRejectsOverlap(t *testing.T) {
	e := New("sparse")
	e.SetSize(1000)
	require.NoError(t, e.AddSparse(0, 100))
	require.NoError(t, e.AddSparse(100, 50)) // adjacent: merged
	require.NoError(t, e.AddSparse(500, 100))
	assert.Equal(t, []SparseRegion{{0, 150}, {500, 100}}, e.Sparse)
	assert.Equal(t, int64(250), e.StoredSize())
	assert.False(t, e.IsDense())

	assert.ErrorIs(t, e.AddSparse(550, 10), ErrSparseOrder)
	require.NoError(t, e.Validate())

	require.NoError(t, e.AddSparse(990, 20))
	assert.ErrorIs(t, e.Validate(), ErrSparseRange)
}

func TestDenseStoredSize(t *testing.T) {
	e := New("dense")
	e.SetSize(42)
	assert.True(t, e.IsDense())
	assert.Equal(t, int64(42), e.StoredSize())
}

func TestCloneIsDeep(t *testing.T) {
	e := New("x")
	e.AddXattr("user.k", []byte("v"))
	require.NoError(t, e.AddSparse(0, 1))
	c := e.Clone()
	c.Xattrs[0].Value[0] = 'z'
	c.Sparse[0].Length = 9
	assert.Equal(t, []byte("v"), e.Xattrs[0].Value)
	assert.Equal(t, int64(1), e.Sparse[0].Length)
}

func TestResetClearsEverything(t *testing.T) {
	e := New("x")
	e.SetSize(5)
	e.Type = Dir
	e.AddXattr("user.k", nil)
	e.Reset()
	assert.Equal(t, "", e.Path)
	assert.Equal(t, Regular, e.Type)
	assert.False(t, e.SizeKnown())
	assert.Empty(t, e.Xattrs)
}

func TestDeviceNumbers(t *testing.T) {
	e := New("dev")
	e.SetDevice(259, 70000)
	assert.Equal(t, uint32(259), e.Major())
	assert.Equal(t, uint32(70000), e.Minor())
}

func TestFflagsBlocking(t *testing.T) {
	assert.True(t, Fflags{Set: FlagImmutable}.Blocking())
	assert.True(t, Fflags{Set: FlagAppend | FlagNoDump}.Blocking())
	assert.False(t, Fflags{Set: FlagNoDump}.Blocking())
}
