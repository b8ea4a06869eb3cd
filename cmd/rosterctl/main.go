package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/credential"
	"github.com/noah-isme/labroster/internal/dto"
	"github.com/noah-isme/labroster/internal/migrations"
	"github.com/noah-isme/labroster/internal/repository"
	"github.com/noah-isme/labroster/internal/service"
	"github.com/noah-isme/labroster/pkg/cache"
	"github.com/noah-isme/labroster/pkg/config"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
	"github.com/noah-isme/labroster/pkg/export"
	"github.com/noah-isme/labroster/pkg/jobs"
	"github.com/noah-isme/labroster/pkg/logger"
	"github.com/noah-isme/labroster/pkg/storage"
)

var (
	version = "dev"
	commit  = "none"
)

// app holds the wired store for a single command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	manager  *database.Manager
	migrator *migrations.Migrator
	metrics  *service.MetricsService
	cache    *service.CacheService
	pool     *jobs.Pool

	accounts    *service.AccountService
	memberships *service.MembershipService
	exports     *service.RosterExportService
	janitor     *service.TokenJanitor
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logr}

	rootCmd := &cobra.Command{
		Use:           "rosterctl",
		Short:         "Lab roster store administration",
		Long:          `rosterctl manages the roster database: schema migrations, roster exports, accounts and refresh token housekeeping.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.open(cmd.Context(), !inspectsSchema(cmd))
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Database.URL, "database-url", cfg.Database.URL, "database connection url (or set DATABASE_URL)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("rosterctl %s (commit: %s)\n", version, commit)
			},
		},
		a.migrateCmd(),
		a.exportCmd(),
		a.accountCmd(),
		a.tokensCmd(),
		a.statsCmd(),
	)

	err = rootCmd.ExecuteContext(ctx)
	// cobra skips post-run hooks when a command fails.
	a.close()
	if err != nil {
		logr.Error("command failed", zap.Error(err), zap.Stringer("kind", appErrors.KindOf(err)))
		_ = logr.Sync()
		os.Exit(exitCode(err))
	}
}

// exitCode lets scripts tell retryable store outages apart from bad input.
func exitCode(err error) int {
	switch appErrors.KindOf(err) {
	case appErrors.KindUnavailable:
		return 3
	case appErrors.KindInvalid:
		return 2
	case appErrors.KindNotFound, appErrors.KindConflict, appErrors.KindDenied:
		return 4
	default:
		return 1
	}
}

// inspectsSchema reports whether cmd only reads migration state, in which
// case the connection must not apply pending steps first.
func inspectsSchema(cmd *cobra.Command) bool {
	return cmd.Name() == "status" && cmd.HasParent() && cmd.Parent().Name() == "migrate"
}

func (a *app) open(ctx context.Context, migrate bool) error {
	a.migrator = migrations.New(a.logger)
	var migrator database.Migrator
	if migrate {
		migrator = a.migrator
	}
	a.manager = database.NewManager(migrator, database.OptionsFromConfig(a.cfg.Database), a.logger)
	if err := a.manager.Set(ctx, a.cfg.Database.URL); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, a.cfg.Redis)
	if err != nil {
		a.logger.Warn("redis unavailable, roster cache disabled", zap.Error(err))
		redisClient = nil
	}

	a.metrics = service.NewMetricsService()
	a.cache = service.NewCacheService(
		repository.NewCacheRepository(redisClient, a.logger),
		a.metrics,
		a.cfg.Cache.RosterTTL,
		a.logger,
		redisClient != nil,
	)
	validate := validator.New()

	students := repository.NewStudentRepository(a.manager)
	teachers := repository.NewTeacherRepository(a.manager)
	classes := repository.NewClassRepository(a.manager)
	experiments := repository.NewExperimentRepository(a.manager)
	tokens := repository.NewRefreshTokenRepository(a.manager)
	membershipRepo := repository.NewMembershipRepository(a.manager)

	a.memberships = service.NewMembershipService(a.manager, membershipRepo, a.cache, a.metrics, a.logger)
	classSvc := service.NewClassService(classes, a.cache, validate, a.logger)
	experimentSvc := service.NewExperimentService(experiments, a.cache, validate, a.logger)

	a.pool = jobs.NewPool("password", jobs.PoolConfig{Workers: a.cfg.Password.Workers, Logger: a.logger})
	a.pool.Start(ctx)
	hasher := credential.NewHasher(credential.ParamsFromConfig(a.cfg.Password), a.pool, a.metrics, a.logger)
	a.accounts = service.NewAccountService(a.manager, students, teachers, tokens, membershipRepo, hasher, a.cache, validate, a.cfg.Tokens.RefreshTTL, a.logger)

	files, err := storage.NewLocalStorage(a.cfg.Export.Dir)
	if err != nil {
		return fmt.Errorf("prepare export directory: %w", err)
	}
	a.exports = service.NewRosterExportService(a.memberships, classSvc, experimentSvc, files, a.cfg.Export.Retention, a.logger)
	a.janitor = service.NewTokenJanitor(tokens, a.cfg.Tokens.PurgeSchedule, a.logger)
	return nil
}

// close releases the pool and the connection. Calling it again is a no-op.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Stop()
		a.pool = nil
	}
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
		a.manager = nil
	}
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations and print the resulting state",
			// open already migrated the schema.
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.printStatus(cmd)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert every migration, dropping all data",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.manager.Clear(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reinit",
			Short: "Drop and recreate the schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.manager.Reinit(cmd.Context()); err != nil {
					return err
				}
				return a.cache.InvalidateRosters(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied, without applying any",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.printStatus(cmd)
			},
		},
	)
	return cmd
}

func (a *app) printStatus(cmd *cobra.Command) error {
	db, err := a.manager.Get()
	if err != nil {
		return err
	}
	statuses, err := a.migrator.Status(cmd.Context(), db)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, st := range statuses {
		state := "pending"
		if st.Applied && st.AppliedAt != nil {
			state = "applied " + st.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-40s %s\n", st.Name, state)
	}
	return nil
}

func (a *app) exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render rosters to CSV or PDF",
	}
	cmd.PersistentFlags().StringVarP(&format, "format", "f", string(export.FormatCSV), "output format: csv or pdf")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "class <class-id>",
			Short: "Export the teachers and students of a class",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, f, err := exportArgs(args[0], format)
				if err != nil {
					return err
				}
				result, err := a.exports.ExportClassRoster(cmd.Context(), id, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", result.Path, result.Rows)
				return nil
			},
		},
		&cobra.Command{
			Use:   "experiment <experiment-id>",
			Short: "Export supervisors, students and bookings of an experiment",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, f, err := exportArgs(args[0], format)
				if err != nil {
					return err
				}
				result, err := a.exports.ExportExperimentRoster(cmd.Context(), id, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", result.Path, result.Rows)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete exports older than the retention period",
			RunE: func(cmd *cobra.Command, args []string) error {
				removed, err := a.exports.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range removed {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
	)
	return cmd
}

func exportArgs(rawID, rawFormat string) (int64, export.Format, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, "", appErrors.WrapAs(appErrors.ErrValidation, err, fmt.Sprintf("invalid id %q", rawID))
	}
	f, err := export.ParseFormat(rawFormat)
	if err != nil {
		return 0, "", appErrors.WrapAs(appErrors.ErrValidation, err, "")
	}
	return id, f, nil
}

func (a *app) accountCmd() *cobra.Command {
	var (
		externalID string
		account    string
		name       string
	)
	request := func() dto.CreateAccountRequest {
		req := dto.CreateAccountRequest{Password: os.Getenv("ROSTER_PASSWORD")}
		if externalID != "" {
			req.ExternalID = &externalID
		}
		if account != "" {
			req.Account = &account
		}
		if name != "" {
			req.Name = &name
		}
		return req
	}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create accounts; the password is read from ROSTER_PASSWORD",
	}
	cmd.PersistentFlags().StringVar(&externalID, "external-id", "", "student or teacher number")
	cmd.PersistentFlags().StringVar(&account, "account", "", "login name")
	cmd.PersistentFlags().StringVar(&name, "name", "", "display name")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create-student",
			Short: "Create a student account",
			RunE: func(cmd *cobra.Command, args []string) error {
				student, err := a.accounts.CreateStudent(cmd.Context(), request())
				if err != nil {
					return err
				}
				return printJSON(cmd, student)
			},
		},
		&cobra.Command{
			Use:   "create-teacher",
			Short: "Create a teacher account",
			RunE: func(cmd *cobra.Command, args []string) error {
				teacher, err := a.accounts.CreateTeacher(cmd.Context(), request())
				if err != nil {
					return err
				}
				return printJSON(cmd, teacher)
			},
		},
	)
	return cmd
}

func (a *app) tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Refresh token housekeeping",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "purge",
			Short: "Delete expired refresh tokens now",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.janitor.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired tokens\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "janitor",
			Short: "Run the purge on its cron schedule until interrupted",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.janitor.Start(cmd.Context()); err != nil {
					return err
				}
				defer a.janitor.Stop()
				a.logger.Info("next purge scheduled", zap.Time("at", a.janitor.NextRun()))
				<-cmd.Context().Done()
				return nil
			},
		},
	)
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store instrumentation collected by this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, a.metrics.Snapshot())
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
