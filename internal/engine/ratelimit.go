package engine

import (
	"context"
	"errors"
	"io"

	"golang.org/x/time/rate"

	"github.com/bamsammich/unbox/internal/stats"
)

// NewBWLimiter creates a rate.Limiter that caps throughput to bytesPerSec.
// The burst is 1 MB so typical decoder reads pass in one wait.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader throttles reads from the archive source.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func newRateLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) *rateLimitedReader {
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	// Never ask for more than one burst so WaitN cannot fail on size.
	if b := rl.limiter.Burst(); len(p) > b {
		p = p[:b]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// Seek passes through so a seekable archive stays seekable. Only reads are
// throttled.
func (rl *rateLimitedReader) Seek(offset int64, whence int) (int64, error) {
	return seekInner(rl.r, offset, whence)
}

// rateLimitedWriter throttles archive output when packing.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := p[:min(len(p), rw.limiter.Burst())]
		if err := rw.limiter.WaitN(rw.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := rw.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

var errNotSeekable = errors.New("archive source is not seekable")

// seekInner seeks r if it can, so the wrappers below never hide a seekable
// archive file from the zip central directory reader.
func seekInner(r io.Reader, offset int64, whence int) (int64, error) {
	sk, ok := r.(io.Seeker)
	if !ok {
		return 0, errNotSeekable
	}
	return sk.Seek(offset, whence)
}

// countingReader feeds consumed archive bytes into the collector. Bytes
// read again after a seek are counted once.
type countingReader struct {
	r     io.Reader
	stats *stats.Collector
	pos   int64
	seen  []span // sorted, disjoint, non-adjacent
}

type span struct{ lo, hi int64 }

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		if fresh := c.mark(c.pos, c.pos+int64(n)); fresh > 0 {
			c.stats.AddSourceRead(fresh)
		}
		c.pos += int64(n)
	}
	return n, err
}

// mark records [lo, hi) as read and returns how many of its bytes were new.
func (c *countingReader) mark(lo, hi int64) int64 {
	fresh := hi - lo
	merged := span{lo, hi}
	out := c.seen[:0:0]
	for _, s := range c.seen {
		if s.hi < merged.lo || s.lo > merged.hi {
			out = append(out, s)
			continue
		}
		fresh -= max(0, min(s.hi, hi)-max(s.lo, lo))
		merged = span{min(s.lo, merged.lo), max(s.hi, merged.hi)}
	}
	i := 0
	for i < len(out) && out[i].lo < merged.lo {
		i++
	}
	c.seen = append(out[:i], append([]span{merged}, out[i:]...)...)
	return fresh
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	abs, err := seekInner(c.r, offset, whence)
	if err == nil {
		c.pos = abs
	}
	return abs, err
}

// ctxReader fails reads once ctx is done, so a stalled decoder notices
// cancellation at its next read.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (c *ctxReader) Seek(offset int64, whence int) (int64, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return seekInner(c.r, offset, whence)
}
