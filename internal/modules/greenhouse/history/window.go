package history

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange = errors.New("invalid range (allowed: 1h, 24h, 48h)")
	ErrInvalidDate  = errors.New("invalid date (expected YYYY-MM-DD)")
)

const (
	defaultRangeKey = "1h"
	dayFetchLimit   = 50000
	dateLayout      = "2006-01-02"
)

type relativeRange struct {
	Duration time.Duration
	Limit    int
	Label    string
}

// The fetch limit grows with the range so that a full range at a normal
// reporting rate fits before downsampling.
var relativeRanges = map[string]relativeRange{
	"1h":  {Duration: time.Hour, Limit: 1000, Label: "Last 1 hour"},
	"24h": {Duration: 24 * time.Hour, Limit: 30000, Label: "Last 24 hours"},
	"48h": {Duration: 48 * time.Hour, Limit: 50000, Label: "Last 48 hours"},
}

// Window is an inclusive time interval plus the most records to fetch for it.
type Window struct {
	Start time.Time
	End   time.Time
	Limit int
	Label string
}

// ResolveWindow maps history query parameters onto a Window. A date selects
// that whole calendar day in loc and takes precedence over rangeKey. With
// neither set the last hour is used.
func ResolveWindow(rangeKey, date string, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}

	if date != "" {
		day, err := time.ParseInLocation(dateLayout, date, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
		}
		y, m, d := day.Date()
		return Window{
			Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
			End:   time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc),
			Limit: dayFetchLimit,
			Label: day.Format(dateLayout),
		}, nil
	}

	if rangeKey == "" {
		rangeKey = defaultRangeKey
	}
	r, ok := relativeRanges[rangeKey]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidRange, rangeKey)
	}
	return Window{
		Start: now.Add(-r.Duration),
		End:   now,
		Limit: r.Limit,
		Label: r.Label,
	}, nil
}
