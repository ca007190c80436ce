package core

import (
	"net/url"
	"time"
)

// ISOLayout matches the timestamps a browser emits with toISOString.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// DateRange is an optional [start, end] filter. Absent on both sides means
// unfiltered. Ordering of the two bounds is not checked here.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// SetStart returns a copy with only the start bound replaced. A nil t clears it.
func (r DateRange) SetStart(t *time.Time) DateRange {
	r.Start = cloneTime(t)
	return r
}

// SetEnd returns a copy with only the end bound replaced. A nil t clears it.
func (r DateRange) SetEnd(t *time.Time) DateRange {
	r.End = cloneTime(t)
	return r
}

// Bounded reports whether both bounds are present. Only a bounded range
// filters remote requests.
func (r DateRange) Bounded() bool {
	return r.Start != nil && r.End != nil
}

// Query returns the startDate/endDate parameters, or an empty set unless
// both bounds are present.
func (r DateRange) Query() url.Values {
	q := url.Values{}
	if !r.Bounded() {
		return q
	}
	q.Set("startDate", FormatISO(*r.Start))
	q.Set("endDate", FormatISO(*r.End))
	return q
}

// Key identifies the range for logging and cache lookups.
func (r DateRange) Key() string {
	return formatBound(r.Start) + ".." + formatBound(r.End)
}

func (r DateRange) Equal(o DateRange) bool {
	return sameBound(r.Start, o.Start) && sameBound(r.End, o.End)
}

func (r DateRange) String() string {
	if r.Start == nil && r.End == nil {
		return "all time"
	}
	return r.Key()
}

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "*"
	}
	return FormatISO(*t)
}

func sameBound(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
