package calendar

import (
	"fmt"
	"time"

	"calboard/internal/model"
)

// Cell is one day of a grid.
type Cell struct {
	Date           model.Date
	InAnchorPeriod bool
	IsToday        bool
	Events         []*model.Event
}

// Grid is a day/week/month arrangement of cells.
type Grid struct {
	Mode   model.ViewMode
	Anchor model.Date
	Today  model.Date
	Cells  []Cell
}

// Weeks splits a grid's cells into rows of seven. Day grids return one
// single-cell row.
func (g Grid) Weeks() [][]Cell {
	if g.Mode == model.ViewDay {
		return [][]Cell{g.Cells}
	}
	rows := make([][]Cell, 0, len(g.Cells)/7)
	for i := 0; i+7 <= len(g.Cells); i += 7 {
		rows = append(rows, g.Cells[i:i+7])
	}
	return rows
}

// Range returns the first and last date a grid of mode anchored on anchor
// covers.
func Range(mode model.ViewMode, anchor model.Date, weekStart time.Weekday) (model.Date, model.Date, error) {
	switch mode {
	case model.ViewDay:
		return anchor, anchor, nil
	case model.ViewWeek:
		first := startOfWeek(anchor, weekStart)
		return first, first.AddDays(6), nil
	case model.ViewMonth:
		first := startOfWeek(anchor.FirstOfMonth(), weekStart)
		last := startOfWeek(anchor.LastOfMonth(), weekStart).AddDays(6)
		return first, last, nil
	default:
		return model.Date{}, model.Date{}, fmt.Errorf("grid: unknown view mode %q", mode)
	}
}

// BuildGrid lays out the index for mode around anchor. Cells only reference
// index buckets; nothing is copied out of the event list.
func BuildGrid(ix *Index, mode model.ViewMode, anchor, today model.Date, weekStart time.Weekday) (Grid, error) {
	first, last, err := Range(mode, anchor, weekStart)
	if err != nil {
		return Grid{}, err
	}

	g := Grid{Mode: mode, Anchor: anchor, Today: today}
	for d := first; !d.After(last); d = d.AddDays(1) {
		g.Cells = append(g.Cells, Cell{
			Date:           d,
			InAnchorPeriod: inAnchorPeriod(mode, d, anchor),
			IsToday:        d == today,
			Events:         ix.Lookup(d),
		})
	}
	return g, nil
}

func inAnchorPeriod(mode model.ViewMode, d, anchor model.Date) bool {
	if mode == model.ViewMonth {
		return d.Year == anchor.Year && d.Month == anchor.Month
	}
	return true
}

// startOfWeek returns the most recent weekStart at or before d.
func startOfWeek(d model.Date, weekStart time.Weekday) model.Date {
	back := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-back)
}
