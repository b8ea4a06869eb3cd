package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/pkg/database"
)

// executor resolves the target of a call: the caller's transaction when one
// is given, otherwise the connection currently held by handle.
func executor(handle database.Handle, exec sqlx.ExtContext) (sqlx.ExtContext, error) {
	if exec != nil {
		return exec, nil
	}
	db, err := handle.Get()
	if err != nil {
		return nil, err
	}
	return db, nil
}

// insertID runs an INSERT written with ? placeholders and returns the new
// surrogate id. PostgreSQL has no LastInsertId, so it gets RETURNING id.
func insertID(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	if database.DialectFor(exec.DriverName()).SupportsLastInsertID() {
		res, err := exec.ExecContext(ctx, exec.Rebind(query), args...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("read inserted id: %w", err)
		}
		return id, nil
	}

	var id int64
	if err := sqlx.GetContext(ctx, exec, &id, exec.Rebind(query+" RETURNING id"), args...); err != nil {
		return 0, err
	}
	return id, nil
}

// execAffected runs a statement and returns the number of affected rows.
func execAffected(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	res, err := exec.ExecContext(ctx, exec.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read affected rows: %w", err)
	}
	return affected, nil
}
