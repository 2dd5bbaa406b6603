// Package timeutil renders timestamps in the user's display timezone.
//
// All state on disk and all scheduling math stay in UTC. Only the text
// shown to the user goes through a Formatter, which applies a fixed
// UTC offset taken from configuration.
package timeutil

import (
	"fmt"
	"time"
)

const (
	// DefaultUTCOffsetHours matches the primary deployment timezone.
	DefaultUTCOffsetHours = 8

	// Layout is the full timestamp layout used in chat messages.
	Layout = "2006-01-02 15:04"

	// ShortLayout drops the year for compact schedule listings.
	ShortLayout = "01-02 15:04"

	// ClockLayout is the layout accepted for user-entered clock times.
	ClockLayout = "15:04"
)

// Formatter converts and renders times in a fixed display zone.
type Formatter struct {
	loc *time.Location
}

// NewFormatter returns a Formatter for the given UTC offset in hours.
func NewFormatter(offsetHours int) *Formatter {
	return &Formatter{loc: zoneFor(offsetHours)}
}

func zoneFor(offsetHours int) *time.Location {
	if offsetHours == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
}

// Location returns the display timezone.
func (f *Formatter) Location() *time.Location {
	if f == nil || f.loc == nil {
		return time.UTC
	}
	return f.loc
}

// ToLocal shifts t into the display timezone. Zero times pass through
// unchanged so callers can keep their own "not set" rendering.
func (f *Formatter) ToLocal(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(f.Location())
}

// Format renders t with the full layout in the display timezone.
func (f *Formatter) Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return f.ToLocal(t).Format(Layout)
}

// FormatShort renders t without the year, for schedule listings.
func (f *Formatter) FormatShort(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return f.ToLocal(t).Format(ShortLayout)
}

// ParseLocal parses a full "2006-01-02 15:04" timestamp entered by the
// user, interpreting it in the display timezone.
func (f *Formatter) ParseLocal(value string) (time.Time, error) {
	return time.ParseInLocation(Layout, value, f.Location())
}

// ClockAt resolves a "15:04" clock string against the date that anchor
// falls on in the display timezone. The result keeps the display zone;
// comparisons against UTC instants behave as expected.
func (f *Formatter) ClockAt(anchor time.Time, value string) (time.Time, error) {
	parsed, err := time.Parse(ClockLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	local := anchor.In(f.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, f.Location()), nil
}
