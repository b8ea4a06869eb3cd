package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDialectFor(t *testing.T) {
	assert.Equal(t, MySQL, DialectFor("mysql").Name)
	assert.Equal(t, Postgres, DialectFor("postgres").Name)
	assert.Equal(t, SQLite, DialectFor("sqlite").Name)
	assert.Equal(t, SQLite, DialectFor("sqlmock").Name)
}

func TestDialectColumnTypes(t *testing.T) {
	sqlite := DialectFor("sqlite")
	assert.Equal(t, "id INTEGER PRIMARY KEY AUTOINCREMENT", sqlite.PrimaryKey("id"))
	assert.Equal(t, "TEXT", sqlite.VarChar())
	assert.Empty(t, sqlite.TableOptions())

	my := DialectFor("mysql")
	assert.Equal(t, "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY", my.PrimaryKey("id"))
	assert.Equal(t, "VARCHAR(255)", my.VarChar())
	assert.Contains(t, my.TableOptions(), "InnoDB")

	pg := DialectFor("postgres")
	assert.Equal(t, "id BIGSERIAL PRIMARY KEY", pg.PrimaryKey("id"))
	assert.False(t, pg.SupportsLastInsertID())
}

func TestConstraintClassification(t *testing.T) {
	dupMySQL := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	fkMySQL := &mysql.MySQLError{Number: 1452}
	dupPG := &pq.Error{Code: "23505"}
	fkPG := fmt.Errorf("wrapped: %w", &pq.Error{Code: "23503"})

	assert.True(t, IsUniqueViolation(dupMySQL))
	assert.True(t, IsUniqueViolation(dupPG))
	assert.False(t, IsUniqueViolation(fkMySQL))
	assert.False(t, IsUniqueViolation(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsUniqueViolation(nil))

	assert.True(t, IsForeignKeyViolation(fkMySQL))
	assert.True(t, IsForeignKeyViolation(fkPG))
	assert.False(t, IsForeignKeyViolation(dupPG))
	assert.False(t, IsForeignKeyViolation(nil))
}
