package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the grace period applied to expiry
	// checks. It absorbs NTP drift between the server and the backing store
	// without meaningfully extending credential lifetimes.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsTokenExpired reports whether a credential is past its expiry, allowing
// the default clock skew grace period.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod reports whether a credential is past its
// expiry with a custom grace period. A zero expiry means no expiration.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
