package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// txScope carries the executor a service copy is bound to. The zero value
// targets the ambient connection.
type txScope struct {
	db   database.Handle
	exec sqlx.ExtContext
}

func (t txScope) bound() bool {
	return t.exec != nil
}

// transact runs fn atomically. A service bound to a caller transaction runs
// fn inside it; otherwise a new transaction is opened on the ambient handle.
func (t txScope) transact(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	if t.exec != nil {
		return fn(t.exec)
	}
	db, err := t.db.Get()
	if err != nil {
		return err
	}
	return database.Transact(ctx, db, func(tx *sqlx.Tx) error {
		return fn(tx)
	})
}

// normalize keeps typed errors and wraps anything else as internal.
func normalize(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Kind, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Kind, message)
}
