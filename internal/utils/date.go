// Package utils provides timestamp and file helpers used by the cvsdk
// commands.
package utils

import (
	"time"

	"github.com/dustin/go-humanize"
)

// FromUnix converts a Commvault epoch-seconds timestamp. Zero means unset
// and maps to the zero time.
func FromUnix(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// HumanTime renders ts relative to now, or "never" when unset.
func HumanTime(ts int64) string {
	t := FromUnix(ts)
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
