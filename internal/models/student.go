package models

// Student is a learner account. The surrogate ID is assigned by the store.
type Student struct {
	ID           int64   `db:"id" json:"id"`
	StudentID    *string `db:"student_id" json:"student_id,omitempty"`
	Account      *string `db:"account" json:"account,omitempty"`
	PasswordHash string  `db:"password_hash" json:"-"`
	Name         *string `db:"name" json:"name,omitempty"`
}
