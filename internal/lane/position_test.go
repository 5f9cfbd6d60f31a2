package lane

import (
	"testing"
	"time"
)

func TestPositionInside(t *testing.T) {
	winStart := base
	winEnd := base.Add(24 * time.Hour)

	span, ok := Position(base.Add(60*time.Minute), base.Add(90*time.Minute), winStart, winEnd, 2, 4)
	if !ok {
		t.Fatal("expected visible")
	}
	if span.X != 120 || span.Width != 60 {
		t.Errorf("span = %+v, want X=120 Width=60", span)
	}
	if span.ClippedStart || span.ClippedEnd {
		t.Errorf("unexpected clipping: %+v", span)
	}
}

func TestPositionClipsAndMinWidth(t *testing.T) {
	winStart := base
	winEnd := base.Add(time.Hour)

	span, ok := Position(base.Add(-time.Hour), base.Add(2*time.Hour), winStart, winEnd, 1, 4)
	if !ok {
		t.Fatal("expected visible")
	}
	if span.X != 0 || span.Width != 60 || !span.ClippedStart || !span.ClippedEnd {
		t.Errorf("span = %+v", span)
	}

	tiny, ok := Position(base, base.Add(time.Second), winStart, winEnd, 1, 4)
	if !ok {
		t.Fatal("expected visible")
	}
	if tiny.Width != 4 {
		t.Errorf("width = %v, want min width 4", tiny.Width)
	}
}

func TestPositionOutside(t *testing.T) {
	winStart := base
	winEnd := base.Add(time.Hour)

	if _, ok := Position(base.Add(time.Hour), base.Add(2*time.Hour), winStart, winEnd, 1, 4); ok {
		t.Error("interval starting at window end should be excluded")
	}
	if _, ok := Position(base.Add(-time.Hour), base, winStart, winEnd, 1, 4); ok {
		t.Error("interval ending at window start should be excluded")
	}
}
