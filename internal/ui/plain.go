package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/unbox/internal/stats"
)

// plainPresenter writes one line per restored entry to stdout and
// periodic progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool

	announced string // path of the last DirCreated/LinkCreated line
	ticks     int
}

const plainProgressEvery = 5 // ticks between progress lines

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.ticks++
			if p.ticks%plainProgressEvery == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	if ev.Type == ArchiveOpened {
		if p.verbose {
			fmt.Fprintf(p.errW, "archive: %s\n", ev.Detail)
		}
		return
	}
	_, text, ok := feedLine(ev, p.announced, p.verbose)
	if ev.Type == DirCreated || ev.Type == LinkCreated {
		p.announced = ev.Path
	}
	if ok {
		fmt.Fprintln(p.w, text)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	speed := p.stats.RollingSpeed(10)
	if snap.SourceTotal > 0 {
		pct := float64(snap.SourceRead) / float64(snap.SourceTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s read  %s entries  %s  eta %s\n",
			pct,
			FormatBytes(snap.SourceRead), FormatBytes(snap.SourceTotal),
			FormatCount(snap.EntriesRead),
			FormatRate(speed),
			FormatETA(p.stats.ETA()),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s read  %s entries  %s\n",
		FormatBytes(snap.SourceRead),
		FormatCount(snap.EntriesRead),
		FormatRate(speed),
	)
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
