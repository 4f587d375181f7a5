package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const ringSize = 60

// Collector tracks extraction statistics using lock-free atomic counters.
type Collector struct {
	entriesRead    atomic.Int64
	filesWritten   atomic.Int64
	entriesWarned  atomic.Int64
	entriesFailed  atomic.Int64
	entriesSkipped atomic.Int64
	bytesWritten   atomic.Int64
	dirsCreated    atomic.Int64
	linksCreated   atomic.Int64
	filesVerified  atomic.Int64
	verifyFailed   atomic.Int64
	sourceRead     atomic.Int64
	sourceTotal    atomic.Int64
	startTime      time.Time

	// Ring buffer, written only by the presenter's Tick().
	mu          sync.Mutex
	throughput  [ringSize]int64 // source bytes consumed per second
	entriesRate [ringSize]int64 // entries per second
	ringIdx     int
	ringCount   int
	lastSource  int64
	lastEntries int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetSourceTotal records the archive size when it is known up front.
func (c *Collector) SetSourceTotal(n int64) { c.sourceTotal.Store(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesRead    int64
	FilesWritten   int64
	EntriesWarned  int64
	EntriesFailed  int64
	EntriesSkipped int64
	BytesWritten   int64
	DirsCreated    int64
	LinksCreated   int64
	FilesVerified  int64
	VerifyFailed   int64
	SourceRead     int64
	SourceTotal    int64
	Elapsed        time.Duration
}

func (c *Collector) AddEntriesRead(n int64)    { c.entriesRead.Add(n) }
func (c *Collector) AddFilesWritten(n int64)   { c.filesWritten.Add(n) }
func (c *Collector) AddEntriesWarned(n int64)  { c.entriesWarned.Add(n) }
func (c *Collector) AddEntriesFailed(n int64)  { c.entriesFailed.Add(n) }
func (c *Collector) AddEntriesSkipped(n int64) { c.entriesSkipped.Add(n) }
func (c *Collector) AddBytesWritten(n int64)   { c.bytesWritten.Add(n) }
func (c *Collector) AddDirsCreated(n int64)    { c.dirsCreated.Add(n) }
func (c *Collector) AddLinksCreated(n int64)   { c.linksCreated.Add(n) }
func (c *Collector) AddFilesVerified(n int64)  { c.filesVerified.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)   { c.verifyFailed.Add(n) }
func (c *Collector) AddSourceRead(n int64)     { c.sourceRead.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesRead:    c.entriesRead.Load(),
		FilesWritten:   c.filesWritten.Load(),
		EntriesWarned:  c.entriesWarned.Load(),
		EntriesFailed:  c.entriesFailed.Load(),
		EntriesSkipped: c.entriesSkipped.Load(),
		BytesWritten:   c.bytesWritten.Load(),
		DirsCreated:    c.dirsCreated.Load(),
		LinksCreated:   c.linksCreated.Load(),
		FilesVerified:  c.filesVerified.Load(),
		VerifyFailed:   c.verifyFailed.Load(),
		SourceRead:     c.sourceRead.Load(),
		SourceTotal:    c.sourceTotal.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Tick snapshots source-byte and entry deltas into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	currentSource := c.sourceRead.Load()
	currentEntries := c.entriesRead.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = currentSource - c.lastSource
	c.entriesRate[c.ringIdx] = currentEntries - c.lastEntries
	c.lastSource = currentSource
	c.lastEntries = currentEntries

	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average source bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.throughput[:], seconds)
}

// RollingEntriesPerSec returns average entries/sec over the last n seconds.
func (c *Collector) RollingEntriesPerSec(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.entriesRate[:], seconds)
}

// SpeedHistory returns up to n per-second throughput samples, oldest first.
func (c *Collector) SpeedHistory(n int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := min(n, c.ringCount)
	out := make([]float64, count)
	for i := range count {
		idx := (c.ringIdx - count + i + ringSize) % ringSize
		out[i] = float64(c.throughput[idx])
	}
	return out
}

func (c *Collector) rollingAvg(buf []int64, n int) float64 {
	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += buf[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates the remaining time from the rolling speed and the unread
// part of the archive. Zero when the archive size is unknown.
func (c *Collector) ETA() time.Duration {
	total := c.sourceTotal.Load()
	if total <= 0 {
		return 0
	}
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := total - c.sourceRead.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"entries=%d files=%d warned=%d failed=%d skipped=%d bytes=%d dirs=%d links=%d",
		s.EntriesRead, s.FilesWritten, s.EntriesWarned, s.EntriesFailed, s.EntriesSkipped,
		s.BytesWritten, s.DirsCreated, s.LinksCreated,
	)
}

// FormatBytes returns a human-readable byte count in IEC units.
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}
