package lane

import "time"

// Span is the horizontal extent of an interval inside a visible window.
type Span struct {
	X            float64
	Width        float64
	ClippedStart bool
	ClippedEnd   bool
}

// Position maps [start, end) onto a window that begins at x=0, scaled by
// pixelsPerMinute. The range is clipped to the window; ok is false when it
// lies entirely outside. Width never drops below minWidth.
func Position(start, end, windowStart, windowEnd time.Time, pixelsPerMinute, minWidth float64) (span Span, ok bool) {
	if !start.Before(windowEnd) || !end.After(windowStart) {
		return Span{}, false
	}

	s, e := start, end
	if s.Before(windowStart) {
		s = windowStart
		span.ClippedStart = true
	}
	if e.After(windowEnd) {
		e = windowEnd
		span.ClippedEnd = true
	}

	startX := s.Sub(windowStart).Minutes() * pixelsPerMinute
	endX := e.Sub(windowStart).Minutes() * pixelsPerMinute
	span.X = startX
	span.Width = max(endX-startX, minWidth)
	return span, true
}
