package dto

// CreateAccountRequest defines payload for creating a student or teacher.
// ExternalID maps to student_id or teacher_id.
type CreateAccountRequest struct {
	ExternalID *string `json:"externalId,omitempty" validate:"omitempty,min=1,max=64"`
	Account    *string `json:"account,omitempty" validate:"omitempty,min=3,max=64"`
	Password   string  `json:"password" validate:"required,min=8,max=128"`
	Name       *string `json:"name,omitempty" validate:"omitempty,max=255"`
}

// RegisterStudentRequest creates a student and enrolls it in classes in one
// transaction.
type RegisterStudentRequest struct {
	CreateAccountRequest
	ClassIDs []int64 `json:"classIds" validate:"dive,gt=0"`
}

// LoginRequest holds credentials. Identifier matches the external id or the
// account name.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// ChangePasswordRequest replaces a password after checking the current one.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}
