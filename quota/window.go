package quota

import (
	"strconv"
	"time"
)

// Window identifies the counter buckets in effect at one instant. Months are
// UTC calendar months; minutes are fixed windows aligned to the Unix epoch.
type Window struct {
	Month       string
	MonthReset  time.Time
	Minute      string
	MinuteReset time.Time
}

// WindowAt returns the window containing t.
func WindowAt(t time.Time) Window {
	t = t.UTC()
	monthStart := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	minute := t.Unix() / 60
	return Window{
		Month:       t.Format("200601"),
		MonthReset:  monthStart.AddDate(0, 1, 0),
		Minute:      strconv.FormatInt(minute, 10),
		MinuteReset: time.Unix((minute+1)*60, 0).UTC(),
	}
}

// Limits are the ceilings applied to one check. Zero means unlimited.
type Limits struct {
	Monthly   int64
	PerMinute int64
}

// Decision is the outcome of a Consume call.
type Decision int

const (
	Allowed Decision = iota
	QuotaExceeded
	RateLimited
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case QuotaExceeded:
		return "quota_exceeded"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Counts are the counter values after a Consume or read.
type Counts struct {
	Monthly int64
	Minute  int64
}

// Result is the outcome of Consume.
type Result struct {
	Decision Decision
	Counts
}
