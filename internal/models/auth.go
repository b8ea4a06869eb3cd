package models

import "time"

// AccountKind distinguishes the two credential-bearing entities.
type AccountKind string

const (
	AccountStudent AccountKind = "student"
	AccountTeacher AccountKind = "teacher"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	return k == AccountStudent || k == AccountTeacher
}

// Session is the result of issuing a refresh token for an account.
type Session struct {
	Kind         AccountKind `json:"kind"`
	OwnerID      int64       `json:"owner_id"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
}
