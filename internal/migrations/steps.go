package migrations

import (
	"fmt"
	"strings"

	"github.com/noah-isme/labroster/pkg/database"
)

// Table names.
const (
	TableClass               = "class"
	TableStudent             = "student"
	TableTeacher             = "teacher"
	TableExperiment          = "experiment"
	TableExperimentTimeRange = "experiment_time_range"
	TableStudentRefreshToken = "student_refresh_token"
	TableTeacherRefreshToken = "teacher_refresh_token"
	TableExperimentTeacher   = "experiment_teacher_junction"
	TableExperimentStudent   = "experiment_student_junction"
	TableTimeRangeStudent    = "experiment_time_range_student_junction"
	TableClassStudent        = "class_student_junction"
	TableClassTeacher        = "class_teacher_junction"
)

// Steps returns the application schema. Parent tables come before the
// junctions that reference them; Down walks the list backwards.
func Steps() []Step {
	return []Step{
		{
			Name: "create_class",
			Up: func(d database.Dialect) []string {
				return []string{createTable(d, TableClass,
					d.PrimaryKey("id"),
					"class_id "+d.VarChar()+" NULL",
				)}
			},
			Down: drop(TableClass),
		},
		{Name: "create_student", Up: accountTable(TableStudent, "student_id"), Down: drop(TableStudent)},
		{Name: "create_teacher", Up: accountTable(TableTeacher, "teacher_id"), Down: drop(TableTeacher)},
		{
			Name: "create_experiment",
			Up: func(d database.Dialect) []string {
				return []string{createTable(d, TableExperiment,
					d.PrimaryKey("id"),
					"name "+d.VarChar()+" NULL",
					"description "+d.Text()+" NULL",
				)}
			},
			Down: drop(TableExperiment),
		},
		{
			Name: "create_experiment_time_range",
			Up: func(d database.Dialect) []string {
				stmts := []string{createTable(d, TableExperimentTimeRange,
					d.PrimaryKey("id"),
					"experiment_pid "+d.BigInt()+" NOT NULL",
					"start_time "+d.Timestamp()+" NOT NULL",
					"end_time "+d.Timestamp()+" NOT NULL",
					"CHECK (start_time < end_time)",
					foreignKey("experiment_pid", TableExperiment),
				)}
				return append(stmts, index(d, TableExperimentTimeRange, "experiment_pid")...)
			},
			Down: drop(TableExperimentTimeRange),
		},
		{Name: "create_student_refresh_token", Up: refreshTokenTable(TableStudentRefreshToken, TableStudent), Down: drop(TableStudentRefreshToken)},
		{Name: "create_teacher_refresh_token", Up: refreshTokenTable(TableTeacherRefreshToken, TableTeacher), Down: drop(TableTeacherRefreshToken)},
		{
			Name: "create_experiment_teacher_junction",
			Up:   junctionTable(TableExperimentTeacher, "experiment_pid", TableExperiment, "teacher_pid", TableTeacher),
			Down: drop(TableExperimentTeacher),
		},
		{
			Name: "create_experiment_student_junction",
			Up:   junctionTable(TableExperimentStudent, "experiment_pid", TableExperiment, "student_pid", TableStudent),
			Down: drop(TableExperimentStudent),
		},
		{
			Name: "create_experiment_time_range_student_junction",
			Up:   junctionTable(TableTimeRangeStudent, "time_range_pid", TableExperimentTimeRange, "student_pid", TableStudent),
			Down: drop(TableTimeRangeStudent),
		},
		{
			Name: "create_class_student_junction",
			Up:   junctionTable(TableClassStudent, "class_pid", TableClass, "student_pid", TableStudent),
			Down: drop(TableClassStudent),
		},
		{
			Name: "create_class_teacher_junction",
			Up: junctionTable(TableClassTeacher, "class_pid", TableClass, "teacher_pid", TableTeacher,
				func(d database.Dialect) string { return "admin " + d.Boolean() + " NOT NULL DEFAULT FALSE" }),
			Down: drop(TableClassTeacher),
		},
	}
}

// Tables lists every table the schema defines, in creation order.
func Tables() []string {
	return []string{
		TableClass, TableStudent, TableTeacher, TableExperiment, TableExperimentTimeRange,
		TableStudentRefreshToken, TableTeacherRefreshToken, TableExperimentTeacher,
		TableExperimentStudent, TableTimeRangeStudent, TableClassStudent, TableClassTeacher,
	}
}

func accountTable(table, externalIDColumn string) func(database.Dialect) []string {
	return func(d database.Dialect) []string {
		return []string{createTable(d, table,
			d.PrimaryKey("id"),
			externalIDColumn+" "+d.VarChar()+" NULL UNIQUE",
			"account "+d.VarChar()+" NULL UNIQUE",
			"password_hash "+d.VarChar()+" NOT NULL",
			"name "+d.VarChar()+" NULL",
		)}
	}
}

func refreshTokenTable(table, owner string) func(database.Dialect) []string {
	return func(d database.Dialect) []string {
		stmts := []string{createTable(d, table,
			d.PrimaryKey("id"),
			"owner_pid "+d.BigInt()+" NOT NULL",
			"token "+d.VarChar()+" NOT NULL UNIQUE",
			"expires_at "+d.Timestamp()+" NOT NULL",
			"created_at "+d.Timestamp()+" NOT NULL",
			foreignKey("owner_pid", owner),
		)}
		return append(stmts, index(d, table, "owner_pid")...)
	}
}

func junctionTable(table, ownerCol, ownerTable, memberCol, memberTable string, extra ...func(database.Dialect) string) func(database.Dialect) []string {
	return func(d database.Dialect) []string {
		defs := []string{
			ownerCol + " " + d.BigInt() + " NOT NULL",
			memberCol + " " + d.BigInt() + " NOT NULL",
		}
		for _, col := range extra {
			defs = append(defs, col(d))
		}
		defs = append(defs,
			fmt.Sprintf("PRIMARY KEY (%s, %s)", ownerCol, memberCol),
			foreignKey(ownerCol, ownerTable),
			foreignKey(memberCol, memberTable),
		)
		// The composite key already serves owner lookups; member lookups
		// need their own index.
		return append([]string{createTable(d, table, defs...)}, index(d, table, memberCol)...)
	}
}

func createTable(d database.Dialect, name string, defs ...string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)%s", name, strings.Join(defs, ",\n\t"), d.TableOptions())
}

func foreignKey(column, parent string) string {
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id) ON DELETE CASCADE", column, parent)
}

// index returns a CREATE INDEX statement. MySQL indexes foreign key columns on
// its own and has no IF NOT EXISTS form, so it gets nothing.
func index(d database.Dialect, table, column string) []string {
	if d.Name == database.MySQL {
		return nil
	}
	return []string{fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, column, table, column)}
}

func drop(table string) func(database.Dialect) []string {
	return func(database.Dialect) []string {
		return []string{"DROP TABLE IF EXISTS " + table}
	}
}
