package ui

import "slices"

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width samples as block characters scaled to
// their maximum. Short input is padded on the left with the lowest block.
func Sparkline(data []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	out := make([]rune, width)
	pad := width - len(data)
	for i := range pad {
		out[i] = sparkBlocks[0]
	}

	peak := 0.0
	if len(data) > 0 {
		peak = slices.Max(data)
	}
	top := len(sparkBlocks) - 1
	for i, v := range data {
		idx := 0
		if peak > 0 && v > 0 {
			idx = min(int(v/peak*float64(top)), top)
		}
		out[pad+i] = sparkBlocks[idx]
	}
	return string(out)
}
