package token

import "time"

// Token is a cached bearer token together with its absolute expiry.
//
// The zero value means "no token". Token is a plain value: copying it is the
// atomic swap the refresh coordinator relies on.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the token can be attached to a request without a
// refresh: a value is present and now is more than margin before expiry.
// A token exactly margin away from expiry is not fresh.
func (t Token) Fresh(now time.Time, margin time.Duration) bool {
	if t.Value == "" || t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}

// Expired reports whether the token is past its expiry outright, with no
// safety margin applied.
func (t Token) Expired(now time.Time) bool {
	return t.Value == "" || !t.ExpiresAt.After(now)
}
