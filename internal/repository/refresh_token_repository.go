package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

var refreshTokenTables = map[models.AccountKind]string{
	models.AccountStudent: "student_refresh_token",
	models.AccountTeacher: "teacher_refresh_token",
}

// RefreshTokenRepository persists refresh tokens for students and teachers.
type RefreshTokenRepository struct {
	handle database.Handle
}

// NewRefreshTokenRepository constructs a RefreshTokenRepository.
func NewRefreshTokenRepository(handle database.Handle) *RefreshTokenRepository {
	return &RefreshTokenRepository{handle: handle}
}

func refreshTokenTable(kind models.AccountKind) (string, error) {
	table, ok := refreshTokenTables[kind]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown account kind %q", kind))
	}
	return table, nil
}

// Create stores token for its owner.
func (r *RefreshTokenRepository) Create(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, token *models.RefreshToken) error {
	table, err := refreshTokenTable(kind)
	if err != nil {
		return err
	}
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	query := "INSERT INTO " + table + " (owner_pid, token, expires_at, created_at) VALUES (?, ?, ?, ?)"
	id, err := insertID(ctx, target, query, token.OwnerID, token.Token, token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	if err != nil {
		switch {
		case database.IsForeignKeyViolation(err):
			return appErrors.WrapAs(appErrors.ErrNotFound, err, fmt.Sprintf("%s not found", kind))
		case database.IsUniqueViolation(err):
			return appErrors.WrapAs(appErrors.ErrUniqueConstraint, err, "refresh token already exists")
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	token.ID = id
	return nil
}

// FindByToken looks up a refresh token by its value.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, value string) (*models.RefreshToken, error) {
	table, err := refreshTokenTable(kind)
	if err != nil {
		return nil, err
	}
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var token models.RefreshToken
	query := target.Rebind("SELECT id, owner_pid, token, expires_at, created_at FROM " + table + " WHERE token = ?")
	if err := sqlx.GetContext(ctx, target, &token, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "refresh token not found")
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

// Delete removes a single token by value.
func (r *RefreshTokenRepository) Delete(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, value string) error {
	table, err := refreshTokenTable(kind)
	if err != nil {
		return err
	}
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM "+table+" WHERE token = ?", value)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "refresh token not found")
	}
	return nil
}

// DeleteByOwner revokes every token of an account.
func (r *RefreshTokenRepository) DeleteByOwner(ctx context.Context, exec sqlx.ExtContext, kind models.AccountKind, ownerID int64) (int64, error) {
	table, err := refreshTokenTable(kind)
	if err != nil {
		return 0, err
	}
	target, err := executor(r.handle, exec)
	if err != nil {
		return 0, err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM "+table+" WHERE owner_pid = ?", ownerID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return affected, nil
}

// DeleteExpired purges tokens of both account kinds that expired before now.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, kind := range []models.AccountKind{models.AccountStudent, models.AccountTeacher} {
		affected, err := execAffected(ctx, target, "DELETE FROM "+refreshTokenTables[kind]+" WHERE expires_at <= ?", now.UTC())
		if err != nil {
			return total, fmt.Errorf("purge expired %s refresh tokens: %w", kind, err)
		}
		total += affected
	}
	return total, nil
}
