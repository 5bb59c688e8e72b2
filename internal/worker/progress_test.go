package worker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/pipeline"
)

func separated(pixels int, depth deconv.Depth) Result {
	return Result{Output: pipeline.Output{Pixels: pixels, Depth: depth}}
}

func TestProgress_Accumulates(t *testing.T) {
	p := NewProgress(4, false)

	p.Update(separated(2_000_000, deconv.Depth8), 1, 4, 0)
	p.Update(separated(1_000_000, deconv.Depth16), 2, 4, 0)
	p.Update(Result{Output: pipeline.Output{Skipped: true}}, 3, 4, 0)
	p.Update(Result{Err: errors.New("unreadable"), Output: pipeline.Output{Pixels: 99}}, 4, 4, 1)

	st := p.snapshot()
	if st.pixels != 3_000_000 {
		t.Errorf("pixels = %d, want 3000000", st.pixels)
	}
	if st.skipped != 1 || st.deep != 1 || st.failed != 1 {
		t.Errorf("skipped/deep/failed = %d/%d/%d, want 1/1/1", st.skipped, st.deep, st.failed)
	}
	if st.completed != 4 || st.total != 4 {
		t.Errorf("completed/total = %d/%d, want 4/4", st.completed, st.total)
	}
}

func TestProgress_Print(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, true)
	p.output = &buf
	p.startTime = time.Now().Add(-10 * time.Second)

	p.Update(separated(5_000_000, deconv.Depth16), 5, 10, 1)

	output := buf.String()
	for _, want := range []string{"█", "5/10 images", "1 failed", "1 16-bit", "5.0 MP at", "MP/s", "ETA:"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "skipped") {
		t.Errorf("Expected no skipped note, got: %s", output)
	}
}

func TestProgress_PrintZeroTotal(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(0, true)
	p.output = &buf
	p.Print()

	if !strings.Contains(buf.String(), "0/0 images") {
		t.Errorf("Expected '0/0 images' in output, got: %s", buf.String())
	}
}

func TestProgress_Done(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(1, true)
	p.output = &buf
	p.startTime = time.Now().Add(-3 * time.Second)

	p.Update(separated(100, deconv.Depth8), 1, 1, 0)
	buf.Reset()

	p.Done()

	output := buf.String()
	if !strings.Contains(output, "Done in") {
		t.Errorf("Expected 'Done in' in output, got: %s", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Expected output to end with newline")
	}
}

func TestProgress_Summary(t *testing.T) {
	p := NewProgress(10, false)
	p.startTime = time.Now().Add(-10 * time.Second)

	p.Update(separated(12_500_000, deconv.Depth8), 9, 10, 2)
	p.Update(Result{Output: pipeline.Output{Skipped: true}}, 10, 10, 2)

	summary := p.Summary()
	for _, want := range []string{"7/10 images", "2 failed", "1 skipped", "12.5 MP"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected %q in summary, got: %s", want, summary)
		}
	}
}

func TestProgress_Disabled(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, false)
	p.output = &buf

	p.Update(separated(1, deconv.Depth8), 5, 10, 0)

	if buf.Len() != 0 {
		t.Errorf("Expected no output when disabled, got: %s", buf.String())
	}
}

func TestProgress_Callback(t *testing.T) {
	p := NewProgress(10, false)

	callback := p.Callback()
	callback(separated(42, deconv.Depth8), 5, 10, 1)

	st := p.snapshot()
	if st.completed != 5 || st.failed != 1 || st.pixels != 42 {
		t.Errorf("completed/failed/pixels = %d/%d/%d, want 5/1/42", st.completed, st.failed, st.pixels)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		expected string
		duration time.Duration
	}{
		{duration: 30 * time.Second, expected: "30s"},
		{duration: 90 * time.Second, expected: "1m30s"},
		{duration: 65 * time.Minute, expected: "1h5m"},
		{duration: 2*time.Hour + 30*time.Minute, expected: "2h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %s, want %s", tt.duration, got, tt.expected)
			}
		})
	}
}
