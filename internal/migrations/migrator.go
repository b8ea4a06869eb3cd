// Package migrations owns the schema: an ordered list of named, reversible
// steps whose application is recorded in schema_migrations.
package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/pkg/database"
)

const trackingTable = "schema_migrations"

// Step is one reversible schema change. Up and Down render dialect specific
// statements that are executed in order.
type Step struct {
	Name string
	Up   func(d database.Dialect) []string
	Down func(d database.Dialect) []string
}

// StepStatus reports whether a step has been applied.
type StepStatus struct {
	Name      string     `db:"name" json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Migrator applies steps in order and reverts them in reverse order.
type Migrator struct {
	steps  []Step
	logger *zap.Logger
}

// New returns a Migrator over the application schema.
func New(logger *zap.Logger) *Migrator {
	return NewWithSteps(Steps(), logger)
}

// NewWithSteps returns a Migrator over a custom step list.
func NewWithSteps(steps []Step, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{steps: steps, logger: logger}
}

// Up applies every step that is not yet recorded. Each step runs in its own
// transaction together with its tracking row.
func (m *Migrator) Up(ctx context.Context, db *sqlx.DB) error {
	dialect := database.DialectFor(db.DriverName())
	if err := m.ensureTrackingTable(ctx, db, dialect); err != nil {
		return err
	}
	applied, err := m.applied(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range m.steps {
		if _, ok := applied[step.Name]; ok {
			continue
		}
		m.logger.Info("applying migration", zap.String("name", step.Name))
		err := database.Transact(ctx, db, func(tx *sqlx.Tx) error {
			for i, stmt := range step.Up(dialect) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %s statement %d failed: %w", step.Name, i+1, err)
				}
			}
			record := tx.Rebind("INSERT INTO " + trackingTable + " (name, applied_at) VALUES (?, ?)")
			if _, err := tx.ExecContext(ctx, record, step.Name, time.Now().UTC()); err != nil {
				return fmt.Errorf("record migration %s: %w", step.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Down reverts every recorded step, newest first.
func (m *Migrator) Down(ctx context.Context, db *sqlx.DB) error {
	dialect := database.DialectFor(db.DriverName())
	if err := m.ensureTrackingTable(ctx, db, dialect); err != nil {
		return err
	}
	applied, err := m.applied(ctx, db)
	if err != nil {
		return err
	}

	for i := len(m.steps) - 1; i >= 0; i-- {
		step := m.steps[i]
		if _, ok := applied[step.Name]; !ok {
			continue
		}
		m.logger.Info("reverting migration", zap.String("name", step.Name))
		err := database.Transact(ctx, db, func(tx *sqlx.Tx) error {
			for j, stmt := range step.Down(dialect) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("revert %s statement %d failed: %w", step.Name, j+1, err)
				}
			}
			record := tx.Rebind("DELETE FROM " + trackingTable + " WHERE name = ?")
			if _, err := tx.ExecContext(ctx, record, step.Name); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", step.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Status lists every known step in order with its applied state.
func (m *Migrator) Status(ctx context.Context, db *sqlx.DB) ([]StepStatus, error) {
	if err := m.ensureTrackingTable(ctx, db, database.DialectFor(db.DriverName())); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, db)
	if err != nil {
		return nil, err
	}
	statuses := make([]StepStatus, 0, len(m.steps))
	for _, step := range m.steps {
		status := StepStatus{Name: step.Name}
		if at, ok := applied[step.Name]; ok {
			status.Applied = true
			at := at
			status.AppliedAt = &at
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Migrator) ensureTrackingTable(ctx context.Context, db *sqlx.DB, d database.Dialect) error {
	stmt := createTable(d, trackingTable,
		"name "+d.VarChar()+" NOT NULL PRIMARY KEY",
		"applied_at "+d.Timestamp()+" NOT NULL",
	)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context, db *sqlx.DB) (map[string]time.Time, error) {
	var rows []struct {
		Name      string    `db:"name"`
		AppliedAt time.Time `db:"applied_at"`
	}
	if err := db.SelectContext(ctx, &rows, "SELECT name, applied_at FROM "+trackingTable); err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	applied := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		applied[row.Name] = row.AppliedAt
	}
	return applied, nil
}
