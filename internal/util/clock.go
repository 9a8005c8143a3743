package util

import (
	"fmt"
	"time"
)

// Clock produces server timestamps in the configured business timezone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock loads the named IANA zone ("Asia/Kolkata" by default).
func NewClock(zone string) (*Clock, error) {
	if zone == "" {
		zone = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// NewFixedClock returns a clock frozen at t; used by tests.
func NewFixedClock(t time.Time) *Clock {
	return &Clock{loc: t.Location(), now: func() time.Time { return t }}
}

// Now returns the current instant in the business timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the business timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Format renders t as ISO-8601 with offset in the business timezone.
func (c *Clock) Format(t time.Time) string {
	return t.In(c.loc).Format(time.RFC3339Nano)
}
