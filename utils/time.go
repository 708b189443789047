// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// MonthPeriod returns the calendar month key (YYYY-MM, UTC) used by send quotas
func MonthPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Days converts a whole number of days into a duration
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// LeaseHeld reports whether a claim lease ending at until is still active at now.
// A nil lease was never taken or has been released.
func LeaseHeld(until *time.Time, now time.Time) bool {
	return until != nil && until.After(now)
}
