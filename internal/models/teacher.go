package models

// Teacher is a staff account with the same shape as Student.
type Teacher struct {
	ID           int64   `db:"id" json:"id"`
	TeacherID    *string `db:"teacher_id" json:"teacher_id,omitempty"`
	Account      *string `db:"account" json:"account,omitempty"`
	PasswordHash string  `db:"password_hash" json:"-"`
	Name         *string `db:"name" json:"name,omitempty"`
}

// ClassTeacher is a teacher as seen through a class roster.
type ClassTeacher struct {
	Teacher
	Admin bool `db:"admin" json:"admin"`
}
