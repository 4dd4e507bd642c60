package security

import "time"

// ExpiredAt reports whether something expiring at expiry is expired at
// the instant now. The boundary is inclusive: an expiry exactly equal to
// now counts as expired. A zero expiry never expires.
func ExpiredAt(expiry, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return !now.Before(expiry)
}

// Expired reports whether expiry has passed relative to the wall clock.
func Expired(expiry time.Time) bool {
	return ExpiredAt(expiry, time.Now())
}

// SecondsUntil returns the whole seconds remaining until expiry at the
// instant now. The result is negative once expiry has passed.
func SecondsUntil(expiry, now time.Time) int64 {
	return int64(expiry.Sub(now).Seconds())
}
