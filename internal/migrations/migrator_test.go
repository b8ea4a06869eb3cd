package migrations

import (
	"context"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labroster/pkg/database"
)

func openMemory(t *testing.T) *sqlx.DB {
	t.Helper()
	target, err := database.ParseURL("sqlite::memory:")
	require.NoError(t, err)
	db, err := database.Open(context.Background(), target, database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func schemaSnapshot(t *testing.T, db *sqlx.DB) map[string]string {
	t.Helper()
	var rows []struct {
		Name string `db:"name"`
		SQL  string `db:"sql"`
	}
	require.NoError(t, db.Select(&rows, "SELECT name, sql FROM sqlite_master WHERE type IN ('table', 'index') AND sql IS NOT NULL AND name <> 'sqlite_sequence'"))
	snapshot := make(map[string]string, len(rows))
	for _, row := range rows {
		snapshot[row.Name] = row.SQL
	}
	return snapshot
}

func TestUpCreatesEveryTable(t *testing.T) {
	db := openMemory(t)
	m := New(nil)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx, db))

	snapshot := schemaSnapshot(t, db)
	for _, table := range Tables() {
		assert.Contains(t, snapshot, table)
	}
	assert.Contains(t, snapshot, trackingTable)
	assert.Contains(t, snapshot[TableClassStudent], "ON DELETE CASCADE")
	assert.Contains(t, snapshot[TableStudent], "AUTOINCREMENT")
}

func TestUpIsIdempotent(t *testing.T) {
	db := openMemory(t)
	m := New(nil)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx, db))
	before := schemaSnapshot(t, db)
	require.NoError(t, m.Up(ctx, db))
	assert.Equal(t, before, schemaSnapshot(t, db))

	statuses, err := m.Status(ctx, db)
	require.NoError(t, err)
	require.Len(t, statuses, len(Steps()))
	for _, status := range statuses {
		assert.True(t, status.Applied, status.Name)
		assert.NotNil(t, status.AppliedAt)
	}
}

func TestRoundTripLeavesNoTables(t *testing.T) {
	db := openMemory(t)
	m := New(nil)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx, db))
	applied := schemaSnapshot(t, db)

	require.NoError(t, m.Down(ctx, db))
	reverted := schemaSnapshot(t, db)
	for _, table := range Tables() {
		assert.NotContains(t, reverted, table)
	}

	statuses, err := m.Status(ctx, db)
	require.NoError(t, err)
	for _, status := range statuses {
		assert.False(t, status.Applied, status.Name)
	}

	require.NoError(t, m.Up(ctx, db))
	assert.Equal(t, applied, schemaSnapshot(t, db))

	var students int
	require.NoError(t, db.Get(&students, "SELECT COUNT(*) FROM student"))
	assert.Zero(t, students)
}

func TestDownDropsJunctionRowsBeforeParents(t *testing.T) {
	db := openMemory(t)
	m := New(nil)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx, db))

	db.MustExec("INSERT INTO class (class_id) VALUES ('c1')")
	db.MustExec("INSERT INTO student (account, password_hash) VALUES ('s1', 'x')")
	db.MustExec("INSERT INTO class_student_junction (class_pid, student_pid) VALUES (1, 1)")

	require.NoError(t, m.Down(ctx, db))
	assert.Empty(t, schemaSnapshot(t, db)[TableClass])
}

func TestFailedStepIsNotRecorded(t *testing.T) {
	db := openMemory(t)
	steps := []Step{
		{Name: "ok", Up: drop("ok_marker"), Down: drop("ok_marker")},
		{
			Name: "broken",
			Up:   func(database.Dialect) []string { return []string{"CREATE TABLE oops (", "SELECT 1"} },
			Down: drop("oops"),
		},
	}
	m := NewWithSteps(steps, nil)
	ctx := context.Background()

	err := m.Up(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration broken statement 1")

	statuses, err := m.Status(ctx, db)
	require.NoError(t, err)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestStepsRenderMySQL(t *testing.T) {
	d := database.DialectFor("mysql")
	for _, step := range Steps() {
		for _, stmt := range step.Up(d) {
			assert.NotContains(t, stmt, "AUTOINCREMENT", step.Name)
			assert.NotContains(t, stmt, "CREATE INDEX", step.Name)
			if strings.HasPrefix(stmt, "CREATE TABLE") {
				assert.True(t, strings.HasSuffix(stmt, "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"), step.Name)
			}
		}
	}
	student := Steps()[1].Up(d)[0]
	assert.Contains(t, student, "account VARCHAR(255) NULL UNIQUE")
	assert.Contains(t, student, "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
}

func TestStepsOrderParentsFirst(t *testing.T) {
	position := make(map[string]int)
	for i, step := range Steps() {
		position[step.Name] = i
	}
	assert.Less(t, position["create_class"], position["create_class_student_junction"])
	assert.Less(t, position["create_student"], position["create_class_student_junction"])
	assert.Less(t, position["create_experiment_time_range"], position["create_experiment_time_range_student_junction"])
	assert.Less(t, position["create_experiment"], position["create_experiment_time_range"])
}
