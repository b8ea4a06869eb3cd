package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/dto"
	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/internal/repository"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

type studentRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Student, error)
	FindByIdentifierOrAccount(ctx context.Context, exec sqlx.ExtContext, value string) (*models.Student, error)
	UpdatePasswordHash(ctx context.Context, exec sqlx.ExtContext, id int64, hash string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type teacherRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Teacher, error)
	FindByIdentifierOrAccount(ctx context.Context, exec sqlx.ExtContext, value string) (*models.Teacher, error)
	UpdatePasswordHash(ctx context.Context, exec sqlx.ExtContext, id int64, hash string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type refreshTokenRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, token *models.RefreshToken) error
	FindByToken(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, value string) (*models.RefreshToken, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, value string) error
	DeleteByOwner(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, ownerID int64) (int64, error)
}

type classJoiner interface {
	Join(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, ownerID, memberID int64) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encoded string) error
	NeedsRehash(encoded string) bool
}

// AccountService handles student and teacher accounts: creation, lookup,
// authentication and refresh token sessions.
type AccountService struct {
	txScope
	students    studentRepository
	teachers    teacherRepository
	tokens      refreshTokenRepository
	memberships classJoiner
	hasher      PasswordHasher
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	tokenTTL    time.Duration
	now         func() time.Time

	dummy *dummyHash
}

// NewAccountService constructs the account service.
func NewAccountService(db database.Handle, students studentRepository, teachers teacherRepository, tokens refreshTokenRepository, memberships classJoiner, hasher PasswordHasher, cache *CacheService, validate *validator.Validate, tokenTTL time.Duration, logger *zap.Logger) *AccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &AccountService{
		txScope:     txScope{db: db},
		students:    students,
		teachers:    teachers,
		tokens:      tokens,
		memberships: memberships,
		hasher:      hasher,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		tokenTTL:    tokenTTL,
		now:         func() time.Time { return time.Now().UTC() },
		dummy:       &dummyHash{},
	}
}

// WithTx returns a copy of the service whose calls run inside tx.
func (s *AccountService) WithTx(tx *sqlx.Tx) *AccountService {
	clone := *s
	clone.exec = tx
	return &clone
}

// CreateStudent hashes the password and inserts a student.
func (s *AccountService) CreateStudent(ctx context.Context, req dto.CreateAccountRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, normalize(err, "failed to hash password")
	}
	student := &models.Student{StudentID: req.ExternalID, Account: req.Account, PasswordHash: hash, Name: req.Name}
	if err := s.students.Create(ctx, s.exec, student); err != nil {
		return nil, normalize(err, "failed to create student")
	}
	s.logger.Info("student created", zap.Int64("student_id", student.ID))
	return student, nil
}

// CreateTeacher hashes the password and inserts a teacher.
func (s *AccountService) CreateTeacher(ctx context.Context, req dto.CreateAccountRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid teacher payload")
	}
	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, normalize(err, "failed to hash password")
	}
	teacher := &models.Teacher{TeacherID: req.ExternalID, Account: req.Account, PasswordHash: hash, Name: req.Name}
	if err := s.teachers.Create(ctx, s.exec, teacher); err != nil {
		return nil, normalize(err, "failed to create teacher")
	}
	s.logger.Info("teacher created", zap.Int64("teacher_id", teacher.ID))
	return teacher, nil
}

// RegisterStudent creates a student and joins it to every class in
// req.ClassIDs atomically. The password is hashed before the transaction
// opens.
func (s *AccountService) RegisterStudent(ctx context.Context, req dto.RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, normalize(err, "failed to hash password")
	}

	student := &models.Student{StudentID: req.ExternalID, Account: req.Account, PasswordHash: hash, Name: req.Name}
	err = s.transact(ctx, func(exec sqlx.ExtContext) error {
		if err := s.students.Create(ctx, exec, student); err != nil {
			return err
		}
		for _, classID := range req.ClassIDs {
			if err := s.memberships.Join(ctx, exec, repository.ClassStudents, classID, student.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, normalize(err, "failed to register student")
	}

	for _, classID := range req.ClassIDs {
		_ = s.cache.Delete(ctx, rosterKey(repository.ClassStudents.Name, "owner", classID))
	}
	s.logger.Info("student registered", zap.Int64("student_id", student.ID), zap.Int("classes", len(req.ClassIDs)))
	return student, nil
}

// GetStudent returns a student by surrogate id.
func (s *AccountService) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to load student")
	}
	return student, nil
}

// GetTeacher returns a teacher by surrogate id.
func (s *AccountService) GetTeacher(ctx context.Context, id int64) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to load teacher")
	}
	return teacher, nil
}

// FindStudent looks a student up by student id or account.
func (s *AccountService) FindStudent(ctx context.Context, identifier string) (*models.Student, error) {
	student, err := s.students.FindByIdentifierOrAccount(ctx, s.exec, identifier)
	if err != nil {
		return nil, normalize(err, "failed to load student")
	}
	return student, nil
}

// FindTeacher looks a teacher up by teacher id or account.
func (s *AccountService) FindTeacher(ctx context.Context, identifier string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByIdentifierOrAccount(ctx, s.exec, identifier)
	if err != nil {
		return nil, normalize(err, "failed to load teacher")
	}
	return teacher, nil
}

// AuthenticateStudent checks credentials. Unknown accounts and wrong
// passwords both yield ErrInvalidCredentials.
func (s *AccountService) AuthenticateStudent(ctx context.Context, req dto.LoginRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}
	student, err := s.students.FindByIdentifierOrAccount(ctx, s.exec, req.Identifier)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.burnVerify(ctx, req.Password)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid identifier or password")
		}
		return nil, normalize(err, "failed to load student")
	}
	if err := s.checkPassword(ctx, models.AccountStudent, student.ID, student.PasswordHash, req.Password, s.students.UpdatePasswordHash); err != nil {
		return nil, err
	}
	return student, nil
}

// AuthenticateTeacher checks credentials. Unknown accounts and wrong
// passwords both yield ErrInvalidCredentials.
func (s *AccountService) AuthenticateTeacher(ctx context.Context, req dto.LoginRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}
	teacher, err := s.teachers.FindByIdentifierOrAccount(ctx, s.exec, req.Identifier)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.burnVerify(ctx, req.Password)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid identifier or password")
		}
		return nil, normalize(err, "failed to load teacher")
	}
	if err := s.checkPassword(ctx, models.AccountTeacher, teacher.ID, teacher.PasswordHash, req.Password, s.teachers.UpdatePasswordHash); err != nil {
		return nil, err
	}
	return teacher, nil
}

type hashUpdater func(ctx context.Context, exec sqlx.ExtContext, id int64, hash string) error

// checkPassword verifies password and upgrades outdated hashes in place.
func (s *AccountService) checkPassword(ctx context.Context, kind models.AccountKind, id int64, encoded, password string, update hashUpdater) error {
	if err := s.hasher.Verify(ctx, password, encoded); err != nil {
		switch {
		case errors.Is(err, appErrors.ErrMismatch):
		case errors.Is(err, appErrors.ErrInvalidHash):
			s.logger.Error("stored password hash is malformed", zap.String("kind", string(kind)), zap.Int64("id", id))
		default:
			return normalize(err, "failed to verify password")
		}
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid identifier or password")
	}

	if s.hasher.NeedsRehash(encoded) {
		rehashed, err := s.hasher.Hash(ctx, password)
		if err == nil {
			err = update(ctx, s.exec, id, rehashed)
		}
		if err != nil {
			s.logger.Warn("password rehash failed", zap.String("kind", string(kind)), zap.Int64("id", id), zap.Error(err))
		} else {
			s.logger.Info("password rehashed", zap.String("kind", string(kind)), zap.Int64("id", id))
		}
	}
	return nil
}

// burnVerify spends the same work as a real verification so response times
// do not reveal whether an account exists.
func (s *AccountService) burnVerify(ctx context.Context, password string) {
	encoded, err := s.dummy.get(ctx, s.hasher)
	if err != nil {
		s.logger.Warn("dummy password hash unavailable", zap.Error(err))
		return
	}
	_ = s.hasher.Verify(ctx, password, encoded)
}

// dummyHash is computed on first use and kept only once hashing succeeded.
// It is shared by every WithTx copy of the service.
type dummyHash struct {
	mu      sync.Mutex
	encoded string
}

func (d *dummyHash) get(ctx context.Context, hasher PasswordHasher) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.encoded != "" {
		return d.encoded, nil
	}
	// A caller that already gave up must not leave later logins unprotected.
	encoded, err := hasher.Hash(context.WithoutCancel(ctx), "labroster-dummy-password")
	if err != nil {
		return "", err
	}
	d.encoded = encoded
	return encoded, nil
}

// ChangeStudentPassword replaces a student's password and revokes every
// refresh token of the student.
func (s *AccountService) ChangeStudentPassword(ctx context.Context, id int64, req dto.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid password payload")
	}
	student, err := s.students.FindByID(ctx, s.exec, id)
	if err != nil {
		return normalize(err, "failed to load student")
	}
	return s.changePassword(ctx, models.AccountStudent, student.ID, student.PasswordHash, req, s.students.UpdatePasswordHash)
}

// ChangeTeacherPassword replaces a teacher's password and revokes every
// refresh token of the teacher.
func (s *AccountService) ChangeTeacherPassword(ctx context.Context, id int64, req dto.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid password payload")
	}
	teacher, err := s.teachers.FindByID(ctx, s.exec, id)
	if err != nil {
		return normalize(err, "failed to load teacher")
	}
	return s.changePassword(ctx, models.AccountTeacher, teacher.ID, teacher.PasswordHash, req, s.teachers.UpdatePasswordHash)
}

func (s *AccountService) changePassword(ctx context.Context, kind models.AccountKind, id int64, encoded string, req dto.ChangePasswordRequest, update hashUpdater) error {
	if err := s.hasher.Verify(ctx, req.CurrentPassword, encoded); err != nil {
		if errors.Is(err, appErrors.ErrMismatch) || errors.Is(err, appErrors.ErrInvalidHash) {
			return appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
		}
		return normalize(err, "failed to verify password")
	}
	hash, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return normalize(err, "failed to hash password")
	}
	err = s.transact(ctx, func(exec sqlx.ExtContext) error {
		if err := update(ctx, exec, id, hash); err != nil {
			return err
		}
		_, err := s.tokens.DeleteByOwner(ctx, exec, kind, id)
		return err
	})
	if err != nil {
		return normalize(err, "failed to change password")
	}
	s.logger.Info("password changed", zap.String("kind", string(kind)), zap.Int64("id", id))
	return nil
}

// DeleteStudent removes a student; memberships and tokens cascade.
func (s *AccountService) DeleteStudent(ctx context.Context, id int64) error {
	if err := s.students.Delete(ctx, s.exec, id); err != nil {
		return normalize(err, "failed to delete student")
	}
	_ = s.cache.InvalidateRosters(ctx)
	s.logger.Info("student deleted", zap.Int64("student_id", id))
	return nil
}

// DeleteTeacher removes a teacher; memberships and tokens cascade.
func (s *AccountService) DeleteTeacher(ctx context.Context, id int64) error {
	if err := s.teachers.Delete(ctx, s.exec, id); err != nil {
		return normalize(err, "failed to delete teacher")
	}
	_ = s.cache.InvalidateRosters(ctx)
	s.logger.Info("teacher deleted", zap.Int64("teacher_id", id))
	return nil
}

// IssueRefreshToken starts a session for an account.
func (s *AccountService) IssueRefreshToken(ctx context.Context, kind models.AccountKind, ownerID int64) (*models.Session, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown account kind")
	}
	token := s.newRefreshToken(ownerID)
	if err := s.tokens.Create(ctx, s.exec, kind, token); err != nil {
		return nil, normalize(err, "failed to issue refresh token")
	}
	return &models.Session{Kind: kind, OwnerID: ownerID, RefreshToken: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

// ConsumeRefreshToken exchanges a refresh token for a new one. The presented
// token is deleted whether or not it has expired.
func (s *AccountService) ConsumeRefreshToken(ctx context.Context, kind models.AccountKind, value string) (*models.Session, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown account kind")
	}
	var (
		session *models.Session
		expired bool
	)
	err := s.transact(ctx, func(exec sqlx.ExtContext) error {
		current, err := s.tokens.FindByToken(ctx, exec, kind, value)
		if err != nil {
			return err
		}
		if err := s.tokens.Delete(ctx, exec, kind, value); err != nil {
			return err
		}
		if current.Expired(s.now()) {
			expired = true
			return nil
		}
		next := s.newRefreshToken(current.OwnerID)
		if err := s.tokens.Create(ctx, exec, kind, next); err != nil {
			return err
		}
		session = &models.Session{Kind: kind, OwnerID: next.OwnerID, RefreshToken: next.Token, ExpiresAt: next.ExpiresAt}
		return nil
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid refresh token")
		}
		return nil, normalize(err, "failed to rotate refresh token")
	}
	if expired {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "refresh token expired")
	}
	return session, nil
}

func (s *AccountService) newRefreshToken(ownerID int64) *models.RefreshToken {
	now := s.now()
	return &models.RefreshToken{
		OwnerID:   ownerID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
}
