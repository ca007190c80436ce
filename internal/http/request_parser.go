// This file parses and sanitizes form input sent by the htmx UI.

package http

import (
	"errors"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"accusim/internal/core"
)

// DateInputLayout is the value format of an <input type="date">.
const DateInputLayout = "2006-01-02"

var (
	ErrInvalidDate  = errors.New("invalid date (expected YYYY-MM-DD)")
	ErrInvalidField = errors.New("field must be start or end")
)

// descriptionPolicy strips every HTML element from free text.
var descriptionPolicy = bluemonday.StrictPolicy()

// RangeUpdate is one DateRange setter call requested by the UI.
type RangeUpdate struct {
	Field string
	Value *time.Time
}

// parseDateInput reads a calendar date in loc. An empty value yields nil.
func parseDateInput(v string, loc *time.Location) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateInputLayout, v, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	return &t, nil
}

// ParseRangeUpdate reads field=start|end and date=YYYY-MM-DD. A start bound
// is the first instant of its day, an end bound the last, so both days are
// included in the range.
func ParseRangeUpdate(form url.Values, loc *time.Location) (RangeUpdate, error) {
	field := strings.TrimSpace(form.Get("field"))
	if field != "start" && field != "end" {
		return RangeUpdate{}, ErrInvalidField
	}
	t, err := parseDateInput(form.Get("date"), loc)
	if err != nil {
		return RangeUpdate{}, err
	}
	if t != nil && field == "end" {
		end := t.AddDate(0, 0, 1).Add(-time.Millisecond)
		t = &end
	}
	return RangeUpdate{Field: field, Value: t}, nil
}

// ParseDraftForm builds a draft from the transaction form. A date equal to
// today keeps the current time of day; other dates start at midnight in loc.
func ParseDraftForm(form url.Values, loc *time.Location, now time.Time) (core.Draft, error) {
	d := core.Draft{
		Type:        core.TransactionType(strings.TrimSpace(form.Get("type"))),
		Amount:      strings.TrimSpace(form.Get("amount")),
		Description: sanitizeDescription(form.Get("description")),
		Date:        now,
	}
	day, err := parseDateInput(form.Get("date"), loc)
	if err != nil {
		return d, err
	}
	if day != nil && day.Format(DateInputLayout) != now.In(loc).Format(DateInputLayout) {
		d.Date = *day
	}
	return d, nil
}

// sanitizeDescription removes markup and control characters. The result is
// plain text; templates escape it again on output.
func sanitizeDescription(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(html.UnescapeString(descriptionPolicy.Sanitize(s)))
}

// formatDateInput renders t for an <input type="date">, or "" when t is nil.
func formatDateInput(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format(DateInputLayout)
}
