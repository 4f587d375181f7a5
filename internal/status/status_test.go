package status

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorseOrdering(t *testing.T) {
	assert.Equal(t, Warn, Worse(OK, Warn))
	assert.Equal(t, Fatal, Worse(Fatal, Failed))
	assert.Equal(t, Warn, Worse(EOF, Warn))
	assert.Equal(t, OK, Worse(EOF, EOF))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, EOF, CodeOf(io.EOF))
	assert.Equal(t, Failed, CodeOf(errors.New("plain")))
	assert.Equal(t, Warn, CodeOf(Warnf(KindPolicy, "op", "p", "x")))
	assert.Equal(t, Fatal, CodeOf(fmt.Errorf("wrapped: %w", ErrMisuse)))
	assert.Equal(t, KindMisuse, KindOf(ErrMisuse))
}

func TestWrapKeepsMoreSevereInnerCode(t *testing.T) {
	inner := Fatalf(KindIO, "read", "", "boom")
	err := Wrap(Failed, KindFormat, "header", "a", inner)
	assert.Equal(t, Fatal, CodeOf(err))
	assert.Nil(t, Wrap(Failed, KindIO, "x", "", nil))
}

func TestWrapDowngradesUnsupported(t *testing.T) {
	err := Wrap(Failed, KindIO, "setacl", "a", fmt.Errorf("acl: %w", errors.ErrUnsupported))
	assert.Equal(t, Warn, CodeOf(err))
	assert.Equal(t, KindCapability, KindOf(err))
}

func TestTally(t *testing.T) {
	var tl Tally
	require.NoError(t, tl.Err())

	tl.Add(nil)
	tl.Add(Warnf(KindCapability, "xattr", "f", "unsupported"))
	assert.Equal(t, Warn, tl.Code())
	assert.Equal(t, Warn, CodeOf(tl.Err()))

	tl.Add(Failf(KindPolicy, "create", "f", "exists"))
	assert.Equal(t, Failed, tl.Code())
	err := tl.Err()
	assert.Equal(t, Failed, CodeOf(err))
	assert.Equal(t, KindPolicy, KindOf(err))
	assert.Contains(t, err.Error(), "unsupported")
	assert.Contains(t, err.Error(), "exists")

	tl.Reset()
	assert.Equal(t, OK, tl.Code())
	assert.Zero(t, tl.Len())
}
