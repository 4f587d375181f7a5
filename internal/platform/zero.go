package platform

import (
	"os"
	"sync"
)

const zeroBufferSize = 1 << 20 // 1 MiB

var zeroPool = sync.Pool{
	New: func() any {
		b := make([]byte, zeroBufferSize)
		return &b
	},
}

// WriteZeros writes length zero bytes at offset. It is the fallback for
// filesystems that cannot represent holes.
func WriteZeros(f *os.File, offset, length int64) (int64, error) {
	bufp := zeroPool.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
	defer zeroPool.Put(bufp)
	buf := *bufp

	var total int64
	for length > 0 {
		n := int64(len(buf))
		if n > length {
			n = length
		}
		w, err := f.WriteAt(buf[:n], offset)
		total += int64(w)
		if err != nil {
			return total, err
		}
		offset += int64(w)
		length -= int64(w)
	}
	return total, nil
}
