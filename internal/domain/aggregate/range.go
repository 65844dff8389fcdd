package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Range names a reporting window.
type Range string

const (
	RangeAll  Range = "all"
	RangeDay1 Range = "day1"
	RangeDay2 Range = "day2"
)

// Ranges lists every known range.
var Ranges = []Range{RangeAll, RangeDay1, RangeDay2}

// ErrUnknownRange is returned by ParseRange for names outside the closed set.
var ErrUnknownRange = errors.New("unknown range")

// ParseRange accepts a range name case-insensitively. Empty means RangeAll.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeAll, nil
	case RangeAll, RangeDay1, RangeDay2:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRange, s)
	}
}

// Windows is the reporting calendar. Since bounds the bulk read; Day1End and
// Day2Start split the event days; Location buckets days and hours.
type Windows struct {
	Location  *time.Location
	Since     time.Time
	Day1End   time.Time
	Day2Start time.Time
}

// Contains reports whether t falls inside r. Both boundaries are inclusive.
func (w Windows) Contains(r Range, t time.Time) bool {
	switch r {
	case RangeDay1:
		return !t.After(w.Day1End)
	case RangeDay2:
		return !t.Before(w.Day2Start)
	default:
		return true
	}
}

func (w Windows) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}
