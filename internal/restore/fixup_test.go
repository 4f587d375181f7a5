package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerSortsDescendantsFirst(t *testing.T) {
	l := NewLedger()
	for _, p := range []string{"/r/a", "/r/a/b-x", "/r/a/b", "/r/a/b/c", "/r"} {
		l.Get(p).Ops.Add(OpTimes)
	}
	l.Get("/r/a").Ops.Add(OpMode)
	require.Equal(t, 5, l.Len())

	var got []string
	for _, f := range l.Sorted() {
		got = append(got, f.Path)
	}
	assert.Equal(t, []string{"/r/a/b/c", "/r/a/b-x", "/r/a/b", "/r/a", "/r"}, got)

	rec := l.Get("/r/a")
	assert.True(t, rec.Ops.Has(OpTimes))
	assert.True(t, rec.Ops.Has(OpMode))
	assert.False(t, rec.Ops.Has(OpACL))
}

func TestOpsListFollowsReplayOrder(t *testing.T) {
	var s Ops
	assert.True(t, s.Empty())
	s.Add(OpFflags)
	s.Add(OpTimes)
	s.Add(OpACL)
	assert.Equal(t, []Op{OpTimes, OpACL, OpFflags}, s.List())
	assert.Equal(t, "fflags", OpFflags.String())
}
