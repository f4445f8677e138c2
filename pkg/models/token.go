package models

import "time"

// TokenData is a bearer token plus its expiry. Owned exclusively by the
// token guard; always passed by value.
type TokenData struct {
	AccessToken string
	// ExpiresAt is zero when the identity provider did not report one.
	ExpiresAt time.Time
}
