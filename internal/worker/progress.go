package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
)

const barWidth = 30

// Progress tracks batch separation and reports throughput in megapixels,
// since slide images vary in size by orders of magnitude.
type Progress struct {
	startTime time.Time
	output    io.Writer
	mu        sync.RWMutex
	enabled   bool

	total     int
	completed int
	failed    int
	skipped   int
	deep      int // 16-bit images
	pixels    int64
}

type progressState struct {
	completed, total, failed, skipped, deep int
	pixels                                  int64
	elapsed                                 time.Duration
}

// NewProgress creates a progress tracker for total images.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:     total,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// Update records the completion of last.
func (p *Progress) Update(last Result, completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	if last.Err == nil {
		switch {
		case last.Output.Skipped:
			p.skipped++
		case last.Output.Depth == deconv.Depth16:
			p.deep++
		}
		p.pixels += int64(last.Output.Pixels)
	}
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

func (p *Progress) snapshot() progressState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return progressState{
		completed: p.completed,
		total:     p.total,
		failed:    p.failed,
		skipped:   p.skipped,
		deep:      p.deep,
		pixels:    p.pixels,
		elapsed:   time.Since(p.startTime),
	}
}

func megapixels(n int64) float64 {
	return float64(n) / 1e6
}

// Print displays the current progress to output.
func (p *Progress) Print() {
	st := p.snapshot()

	var mpRate float64
	var eta time.Duration
	if st.completed > 0 && st.elapsed > 0 {
		mpRate = megapixels(st.pixels) / st.elapsed.Seconds()
		perImage := st.elapsed / time.Duration(st.completed)
		eta = perImage * time.Duration(st.total-st.completed)
	}

	filled := 0
	if st.total > 0 {
		filled = st.completed * barWidth / st.total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "\r[%s] %d/%d images", bar, st.completed, st.total)
	if note := st.notes(); note != "" {
		fmt.Fprintf(&b, " (%s)", note)
	}
	fmt.Fprintf(&b, " - %.1f MP at %.1f MP/s", megapixels(st.pixels), mpRate)
	if eta > 0 && st.completed < st.total {
		fmt.Fprintf(&b, " - ETA: %s", formatDuration(eta))
	}
	if st.completed == st.total {
		fmt.Fprintf(&b, " - Done in %s", formatDuration(st.elapsed))
	}

	// Pad to clear previous line content
	b.WriteString("          ")

	fmt.Fprint(p.output, b.String())
}

// notes lists the non-zero failed, skipped and 16-bit counts.
func (st progressState) notes() string {
	var parts []string
	if st.failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", st.failed))
	}
	if st.skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", st.skipped))
	}
	if st.deep > 0 {
		parts = append(parts, fmt.Sprintf("%d 16-bit", st.deep))
	}
	return strings.Join(parts, ", ")
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a summary string of the completed work.
func (p *Progress) Summary() string {
	st := p.snapshot()

	var mpRate float64
	if st.elapsed.Seconds() > 0 {
		mpRate = megapixels(st.pixels) / st.elapsed.Seconds()
	}

	return fmt.Sprintf("Separated %d/%d images (%d failed, %d skipped) totalling %.1f MP in %s (%.1f MP/s)",
		st.completed-st.failed-st.skipped, st.total, st.failed, st.skipped,
		megapixels(st.pixels), formatDuration(st.elapsed), mpRate)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Minutes()/60), int(d.Minutes())%60)
}
