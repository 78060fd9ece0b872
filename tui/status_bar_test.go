// ABOUTME: Tests for the status bar: elapsed formatting, progress counters, and rendering.
// ABOUTME: Pure model tests with no terminal attached.
package tui

import (
	"strings"
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{0, "0s"},
		{90 * time.Second, "1m30s"},
		{2*time.Minute + 5*time.Second, "2m5s"},
	}
	for _, tc := range cases {
		if got := formatElapsed(tc.d); got != tc.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestStatusBarView(t *testing.T) {
	bar := NewStatusBarModel("pipeline", 4)
	bar.SetCompleted(2)
	bar.SetStatus("running")
	view := bar.View()
	for _, want := range []string{"pipeline", "running", "2/4"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q: %s", want, view)
		}
	}
}

func TestStatusBarElapsedBeforeStart(t *testing.T) {
	bar := NewStatusBarModel("x", 1)
	if bar.Elapsed() != 0 {
		t.Error("elapsed should be zero before Start")
	}
	bar.Start()
	if bar.Elapsed() < 0 {
		t.Error("elapsed should be non-negative after Start")
	}
}

func TestStatusBarFallbackName(t *testing.T) {
	bar := NewStatusBarModel("", 1)
	if !strings.Contains(bar.View(), "diagram") {
		t.Error("unnamed diagrams should render a placeholder")
	}
}
