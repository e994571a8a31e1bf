package util

import (
	"strings"
	"time"
)

// expiryLayout matches the exchange scrip-master expiry format, e.g. 24SEP2026.
const expiryLayout = "02Jan2006"

// MonthlyExpiry returns the last Thursday of now's month, in now's location.
func MonthlyExpiry(now time.Time) time.Time {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	d := firstOfNext.AddDate(0, 0, -1)
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// FormatExpiry renders an expiry date in scrip-master notation (24SEP2026).
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLayout))
}

// ParseExpiry parses scrip-master expiry notation in the given location.
func ParseExpiry(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(expiryLayout, normalizeExpiry(s), loc)
}

// normalizeExpiry maps 24SEP2026 to 24Sep2026 so the stdlib layout matches.
func normalizeExpiry(s string) string {
	if len(s) != len(expiryLayout) {
		return s
	}
	return s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
}

// IsMonthlyExpiryToday reports whether now falls on the monthly expiry date.
func IsMonthlyExpiryToday(now time.Time) bool {
	exp := MonthlyExpiry(now)
	return now.Year() == exp.Year() && now.Month() == exp.Month() && now.Day() == exp.Day()
}

// PastTimeOfDay reports whether now is at or past hour:minute in its own
// location.
func PastTimeOfDay(now time.Time, hour, minute int) bool {
	mark := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	return !now.Before(mark)
}
