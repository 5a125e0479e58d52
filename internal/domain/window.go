package domain

import (
	"fmt"
	"time"
)

// PeriodType enumerates the supported sync granularities.
type PeriodType string

const (
	PeriodWeekly    PeriodType = "weekly"
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodYearly    PeriodType = "yearly"
)

// ParsePeriodType converts a string into a PeriodType.
func ParsePeriodType(s string) (PeriodType, error) {
	switch PeriodType(s) {
	case PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return PeriodType(s), nil
	}
	return "", fmt.Errorf("unknown period type %q", s)
}

// Window is an inclusive date range for one sync pass. Start and End carry
// date precision only; time-of-day components are truncated on construction.
type Window struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	PeriodType PeriodType `json:"period_type"`
}

// NewWindow builds a Window with both bounds truncated to UTC midnight.
func NewWindow(start, end time.Time, pt PeriodType) Window {
	return Window{Start: DateOnly(start), End: DateOnly(end), PeriodType: pt}
}

// DateOnly truncates a timestamp to UTC midnight.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsValid reports whether the window has a non-inverted range and a known
// period type.
func (w Window) IsValid() bool {
	if w.Start.After(w.End) {
		return false
	}
	_, err := ParsePeriodType(string(w.PeriodType))
	return err == nil
}

// Days returns the inclusive length of the window in days.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w Window) String() string {
	return fmt.Sprintf("%s[%s..%s]", w.PeriodType, w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}
