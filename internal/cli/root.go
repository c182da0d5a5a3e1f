// Package cli provides the trainingimport command-line interface.
//
// Each import subcommand is one wizard step. Sessions live in a SQLite state
// file, so a parse in one invocation can be mapped, previewed and confirmed
// in later ones.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/trainingimport/internal/core"
	"github.com/JonMunkholm/trainingimport/internal/directory"
	"github.com/JonMunkholm/trainingimport/internal/logging"
	"github.com/JonMunkholm/trainingimport/internal/session"
)

// Version is set at build time.
var Version = "dev"

// Directory is the member directory, course catalog and record writer the
// import runs against.
type Directory interface {
	core.MemberDirectory
	core.CourseCatalog
	core.TrainingRecordWriter
}

// DirectoryOpener connects to the directory. The returned func releases it.
type DirectoryOpener func(ctx context.Context, cfg *Config) (Directory, func(), error)

// OpenPostgres connects to the database at cfg.DatabaseURL.
func OpenPostgres(ctx context.Context, cfg *Config) (Directory, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("database_url is required (set --database-url or %sDATABASE_URL)", EnvPrefix)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return directory.NewStore(pool), pool.Close, nil
}

// ExitError carries a process exit code. A nil Err means the command has
// already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type appKey struct{}

// app is what PersistentPreRunE hands to the subcommands.
type app struct {
	cfg    *Config
	logger *slog.Logger
	open   DirectoryOpener
}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}

// sessions opens the state file.
func (a *app) sessions() (*session.SQLiteStore, error) {
	store, err := session.OpenSQLite(a.cfg.StatePath, a.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", a.cfg.StatePath, err)
	}
	return store, nil
}

// service wires a Service over the state file and the directory. The
// returned func closes both.
func (a *app) service(ctx context.Context) (*core.Service, func(), error) {
	store, err := a.sessions()
	if err != nil {
		return nil, nil, err
	}
	dir, release, err := a.open(ctx, a.cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	svc := core.NewService(dir, dir, dir, store, nil, core.ServiceConfig{
		DefaultTrainingType: a.cfg.DefaultTrainingType,
		DefaultRecordStatus: a.cfg.DefaultRecordStatus,
		CommitWorkers:       a.cfg.CommitWorkers,
		CommitTimeout:       a.cfg.CommitTimeout,
		MaxFileSize:         a.cfg.MaxFileSize,
	}).WithLogger(a.logger)

	return svc, func() {
		release()
		store.Close()
	}, nil
}

// NewRootCmd creates the root command. open connects to the directory for
// commands that need it.
func NewRootCmd(open DirectoryOpener) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "trainingimport",
		Short: "Import training history files",
		Long: `trainingimport loads training history from CSV or spreadsheet files.

An import is a session that moves through parse, map, preview and confirm.
Rows are matched to members by email, badge number or name, and course names
missing from the catalog are mapped, created or skipped before anything is
written.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			a := &app{
				cfg:    cfg,
				logger: logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat),
				open:   open,
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, appKey{}, a))
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+DefaultConfigFile+" if present)")
	pf.String("database-url", "", "Postgres connection string")
	pf.String("state", "", "session state file")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.StringP("output", "o", "", "output format: table, json")

	rootCmd.AddCommand(NewImportCommand())

	return rootCmd
}

// Execute runs the CLI against Postgres and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(OpenPostgres)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return exitCode(stderr, cmd.ExecuteContext(ctx))
}

// exitCode reports err on w and maps it to an exit code: 2 for unreadable
// import files, 1 for everything else.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}

	code := 1
	var exit *ExitError
	if errors.As(err, &exit) {
		code = exit.Code
		if exit.Err == nil {
			return code
		}
		err = exit.Err
	}

	msg := err.Error()
	if core.IsUserFacing(err) {
		msg = core.FormatUserError(err)
	}
	fmt.Fprintln(w, "Error:", msg)
	if core.IsFileError(err) {
		fmt.Fprintln(w, "  ", err.Error())
		code = 2
	}
	return code
}
