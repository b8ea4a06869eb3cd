package database

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// Dialect captures the per-backend SQL differences the store cares about.
type Dialect struct {
	Name       string
	DriverName string
}

var dialects = map[string]Dialect{
	SQLite:   {Name: SQLite, DriverName: "sqlite"},
	MySQL:    {Name: MySQL, DriverName: "mysql"},
	Postgres: {Name: Postgres, DriverName: "postgres"},
}

// DialectFor resolves a dialect from a database/sql driver name. Unknown
// drivers (sqlmock in tests) fall back to SQLite syntax.
func DialectFor(driverName string) Dialect {
	switch driverName {
	case "mysql":
		return dialects[MySQL]
	case "postgres", "pgx", "cloudsqlpostgres":
		return dialects[Postgres]
	default:
		return dialects[SQLite]
	}
}

// PrimaryKey renders an auto-incrementing surrogate key column.
func (d Dialect) PrimaryKey(column string) string {
	switch d.Name {
	case MySQL:
		return column + " BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	case Postgres:
		return column + " BIGSERIAL PRIMARY KEY"
	default:
		// AUTOINCREMENT keeps SQLite from recycling deleted ids.
		return column + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// BigInt is the column type for foreign keys to surrogate ids.
func (d Dialect) BigInt() string {
	if d.Name == SQLite {
		return "INTEGER"
	}
	return "BIGINT"
}

// VarChar is the column type for short, indexable text.
func (d Dialect) VarChar() string {
	if d.Name == SQLite {
		return "TEXT"
	}
	return "VARCHAR(255)"
}

// Text is the column type for unbounded text.
func (d Dialect) Text() string {
	return "TEXT"
}

// Boolean is the column type for flags.
func (d Dialect) Boolean() string {
	if d.Name == MySQL {
		return "TINYINT(1)"
	}
	return "BOOLEAN"
}

// Timestamp is the column type for points in time.
func (d Dialect) Timestamp() string {
	switch d.Name {
	case MySQL:
		return "DATETIME(6)"
	case Postgres:
		return "TIMESTAMPTZ"
	default:
		return "TIMESTAMP"
	}
}

// TableOptions is appended to CREATE TABLE statements.
func (d Dialect) TableOptions() string {
	if d.Name == MySQL {
		return " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	return ""
}

// SupportsLastInsertID reports whether sql.Result.LastInsertId is usable.
func (d Dialect) SupportsLastInsertID() bool {
	return d.Name != Postgres
}

// IsUniqueViolation reports whether err is a primary key or unique index
// violation from any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return isSQLiteConstraint(sqliteErr) &&
			(strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed") ||
				strings.Contains(sqliteErr.Error(), "PRIMARY KEY"))
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// IsForeignKeyViolation reports whether err is a foreign key violation from
// any supported driver.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
		return isSQLiteConstraint(sqliteErr) && strings.Contains(sqliteErr.Error(), "FOREIGN KEY constraint failed")
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1451 || mysqlErr.Number == 1452
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func isSQLiteConstraint(err *sqlite.Error) bool {
	return err.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
