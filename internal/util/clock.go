package util

import "time"

// Now returns the current instant in UTC.
func Now() time.Time {
	return time.Now().UTC()
}
