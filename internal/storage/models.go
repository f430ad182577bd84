package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day key format shared with the JSON history file.
const DateLayout = "02-01-2006"

// Snapshot is one day's portfolio totals. At most one snapshot exists per
// calendar day; a later save on the same day replaces it.
type Snapshot struct {
	Date time.Time
	USD  decimal.Decimal
	RUB  decimal.Decimal
}

// Key returns the calendar-day key of the snapshot.
func (s Snapshot) Key() string {
	return s.Date.Format(DateLayout)
}
