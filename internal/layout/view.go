package layout

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dukerupert/timeline/internal/schederr"
)

type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

// ViewScale controls horizontal zoom. BaseWidth is the pixel width the
// whole range is stretched to; MinPixelsPerMinute keeps long ranges legible.
type ViewScale struct {
	BaseWidth          float64 `yaml:"base_width"`
	MinPixelsPerMinute float64 `yaml:"min_pixels_per_minute"`
}

// DefaultScales returns the built-in zoom table.
func DefaultScales() map[View]ViewScale {
	return map[View]ViewScale{
		ViewDay:   {BaseWidth: 1440, MinPixelsPerMinute: 0.5},
		ViewWeek:  {BaseWidth: 2016, MinPixelsPerMinute: 0.1},
		ViewMonth: {BaseWidth: 2232, MinPixelsPerMinute: 0.02},
	}
}

func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewDay, ViewWeek, ViewMonth:
		return v, nil
	}
	return "", schederr.Validation("view", fmt.Sprintf("unknown view %q; want day, week or month", s))
}

// PixelsPerMinute returns the zoom for a range under scale.
func PixelsPerMinute(scale ViewScale, start, end time.Time) float64 {
	minutes := end.Sub(start).Minutes()
	if minutes <= 0 {
		return scale.MinPixelsPerMinute
	}
	return math.Max(scale.MinPixelsPerMinute, scale.BaseWidth/minutes)
}
