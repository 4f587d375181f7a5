package platform

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "z")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("xxxxxxxxxx"), 0)
	require.NoError(t, err)

	n, err := WriteZeros(f, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("xx\x00\x00\x00\x00\x00xxx"), got)
}

func TestWriteZerosLargerThanBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	n, err := WriteZeros(f, 0, zeroBufferSize+17)
	require.NoError(t, err)
	assert.Equal(t, int64(zeroBufferSize+17), n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(make([]byte, zeroBufferSize+17), got))
}
