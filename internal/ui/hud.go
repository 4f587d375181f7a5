package ui

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/bamsammich/unbox/internal/stats"
)

// ANSI escape sequences.
const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

const (
	rateThreshHigh   = 200.0 // entries/s above which the feed is suppressed
	rateThreshLow    = 100.0
	sparklineWidth   = 20
	progressBarWidth = 20
	hudMinInterval   = 50 * time.Millisecond
)

// hudPresenter prints a scrolling feed of restored entries above a
// two-line status block that redraws in place.
type hudPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	verbose bool
	chain   string

	announced    string
	hudDrawn     bool
	hudLineCount int
	rateMode     bool
	rateNoticed  bool
	lastHUDDraw  time.Time
}

func (p *hudPresenter) Run(events <-chan Event) error {
	// Fire first tick quickly to seed the ring buffer, then switch to 1s.
	secTicker := time.NewTicker(250 * time.Millisecond)
	defer secTicker.Stop()
	firstTickDone := false

	// Redraw while a single large entry is streaming.
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()

		case <-redrawTicker.C:
			p.maybeSwitch()
			p.drawHUD()

		case <-secTicker.C:
			p.stats.Tick()
			if !firstTickDone {
				firstTickDone = true
				secTicker.Reset(time.Second)
			}
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	if ev.Type == ArchiveOpened {
		p.chain = ev.Detail
		return
	}
	icon, text, ok := feedLine(ev, p.announced, p.verbose)
	if ev.Type == DirCreated || ev.Type == LinkCreated {
		p.announced = ev.Path
	}
	if !ok {
		return
	}
	// Problems are always shown; routine lines only outside rate mode.
	quiet := ev.Type != EntryWarned && ev.Type != EntryFailed && ev.Type != VerifyFailed
	if quiet && p.rateMode {
		return
	}
	p.clearHUD()
	fmt.Fprintf(p.w, "%s  %s\n", icon, p.styledLine(ev, text))
	p.drawHUD()
}

// styledLine dims the directory part of the entry path at the start of text.
func (p *hudPresenter) styledLine(ev Event, text string) string {
	if len(text) < len(ev.Path) || text[:len(ev.Path)] != ev.Path {
		return text
	}
	return p.styledPath(ev.Path) + text[len(ev.Path):]
}

func (p *hudPresenter) maybeSwitch() {
	eps := p.stats.RollingEntriesPerSec(2)
	switch {
	case !p.rateMode && eps > rateThreshHigh:
		p.rateMode = true
		if !p.rateNoticed {
			p.rateNoticed = true
			p.clearHUD()
			fmt.Fprintf(p.w, "↯ rate view (%s entries/s, only problems are listed)\n",
				FormatCount(int64(eps)))
		}
	case p.rateMode && eps < rateThreshLow:
		p.rateMode = false
	}
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	snap := p.stats.Snapshot()
	p.clearHUD()

	speed := p.stats.RollingSpeed(10)
	spark := Sparkline(p.stats.SpeedHistory(sparklineWidth), sparklineWidth)

	// Line 1: throughput sparkline + speed + archive bytes consumed.
	read := FormatBytes(snap.SourceRead)
	if snap.SourceTotal > 0 {
		read += " / " + FormatBytes(snap.SourceTotal)
	}
	fmt.Fprintf(p.w, "       %s   %s   %s  %s%s%s\n",
		spark, FormatRate(speed), read, ansiDim, p.chain, ansiReset)

	// Line 2: progress bar + entries + eta. Without a known archive size
	// the bar is left out.
	entries := fmt.Sprintf("%s entries  %s written", FormatCount(snap.EntriesRead), FormatBytes(snap.BytesWritten))
	if snap.SourceTotal > 0 {
		pct := float64(snap.SourceRead) / float64(snap.SourceTotal)
		fmt.Fprintf(p.w, " %3.0f%%  %s   %s   eta %s\n",
			pct*100, ProgressBar(pct, progressBarWidth), entries, FormatETA(p.stats.ETA()))
	} else {
		fmt.Fprintf(p.w, "       %s   elapsed %s\n", entries, FormatDuration(snap.Elapsed))
	}

	p.hudDrawn = true
	p.hudLineCount = 2
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	// Move cursor up N lines and clear to end of screen.
	fmt.Fprintf(p.w, "\033[%dA\033[J", p.hudLineCount)
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

// styledPath dims the directory portion so the file name stands out.
func (p *hudPresenter) styledPath(name string) string {
	dir, base := path.Split(name)
	if dir == "" {
		return base
	}
	return ansiDim + dir + ansiReset + base
}
