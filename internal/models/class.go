package models

// Class represents a class or section. ClassID is an optional human label.
type Class struct {
	ID      int64   `db:"id" json:"id"`
	ClassID *string `db:"class_id" json:"class_id,omitempty"`
}

// TeacherClass is a class as seen from a teacher, with the admin flag of the
// membership.
type TeacherClass struct {
	Class
	Admin bool `db:"admin" json:"admin"`
}
