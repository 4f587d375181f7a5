package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 50
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddEntriesRead(1)
				c.AddFilesWritten(1)
				c.AddEntriesFailed(1)
				c.AddEntriesSkipped(1)
				c.AddBytesWritten(256)
				c.AddDirsCreated(1)
				c.AddLinksCreated(1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.EntriesRead)
	assert.Equal(t, expected, s.FilesWritten)
	assert.Equal(t, expected, s.EntriesFailed)
	assert.Equal(t, expected, s.EntriesSkipped)
	assert.Equal(t, expected*256, s.BytesWritten)
	assert.Equal(t, expected, s.DirsCreated)
	assert.Equal(t, expected, s.LinksCreated)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{
		EntriesRead:    10,
		FilesWritten:   7,
		EntriesWarned:  2,
		EntriesFailed:  1,
		EntriesSkipped: 1,
		BytesWritten:   4096,
		DirsCreated:    3,
		LinksCreated:   2,
	}
	expected := "entries=10 files=7 warned=2 failed=1 skipped=1 bytes=4096 dirs=3 links=2"
	assert.Equal(t, expected, s.String())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
		{-2048, "-2.0 KiB"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.startTime.IsZero())
	assert.InDelta(t, 0, c.Elapsed().Seconds(), 1)
}

func TestTickAndRollingSpeed(t *testing.T) {
	c := NewCollector()

	// 5 seconds of 1000 source bytes/sec.
	for range 5 {
		c.AddSourceRead(1000)
		c.AddEntriesRead(10)
		c.Tick()
	}

	assert.InDelta(t, 1000.0, c.RollingSpeed(5), 0.01)
	assert.InDelta(t, 10.0, c.RollingEntriesPerSec(5), 0.01)
}

func TestRollingSpeedPartialWindow(t *testing.T) {
	c := NewCollector()
	c.AddSourceRead(500)
	c.Tick()
	c.AddSourceRead(500)
	c.Tick()

	assert.InDelta(t, 500.0, c.RollingSpeed(10), 0.01)
}

func TestRollingSpeedNoSamples(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, c.RollingSpeed(5))
}

func TestRingWraparound(t *testing.T) {
	c := NewCollector()
	for range ringSize + 10 {
		c.AddSourceRead(100)
		c.Tick()
	}
	assert.Equal(t, ringSize, c.ringCount)
	assert.InDelta(t, 100.0, c.RollingSpeed(ringSize*2), 0.01)
}

func TestETA(t *testing.T) {
	c := NewCollector()
	c.SetSourceTotal(10000)
	for range 5 {
		c.AddSourceRead(1000)
		c.Tick()
	}
	assert.InDelta(t, 5.0, c.ETA().Seconds(), 1.0)
}

func TestETAUnknownTotal(t *testing.T) {
	c := NewCollector()
	c.AddSourceRead(1000)
	c.Tick()
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestETAComplete(t *testing.T) {
	c := NewCollector()
	c.SetSourceTotal(1000)
	c.AddSourceRead(1000)
	c.Tick()
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestSnapshotIncludesElapsed(t *testing.T) {
	c := NewCollector()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, c.Snapshot().Elapsed, time.Duration(0))
}

func TestSpeedHistory(t *testing.T) {
	c := NewCollector()
	assert.Empty(t, c.SpeedHistory(5))

	for _, n := range []int64{10, 20, 30} {
		c.AddSourceRead(n)
		c.Tick()
	}
	assert.Equal(t, []float64{10, 20, 30}, c.SpeedHistory(5))
	assert.Equal(t, []float64{20, 30}, c.SpeedHistory(2))
}
