package scheduler

import "time"

// Window is the inclusive range of local hours in which scheduled reports
// are delivered. Both boundary hours are inside the window.
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t falls inside the window, evaluated in the
// window's location.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h >= w.StartHour && h <= w.EndHour
}
