package models

import "time"

// RefreshToken is a persisted refresh token session owned by a student or a
// teacher, depending on the table it lives in.
type RefreshToken struct {
	ID        int64     `db:"id" json:"id"`
	OwnerID   int64     `db:"owner_pid" json:"owner_id"`
	Token     string    `db:"token" json:"token"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the token is no longer usable at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
