package model

import "fmt"

// ViewMode selects the calendar grid shape.
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
)

var viewRotation = []ViewMode{ViewDay, ViewWeek, ViewMonth}

// ParseViewMode validates s.
func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(s); m {
	case ViewDay, ViewWeek, ViewMonth:
		return m, nil
	default:
		return "", fmt.Errorf("unknown view mode %q", s)
	}
}

// Next returns the following mode in the day -> week -> month rotation.
func (m ViewMode) Next() ViewMode {
	for i, v := range viewRotation {
		if v == m {
			return viewRotation[(i+1)%len(viewRotation)]
		}
	}
	return ViewDay
}
