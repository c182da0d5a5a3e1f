package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

// NewImportCommand creates the import command and its wizard steps.
func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run a training history import",
		Long: `Run a training history import one step at a time.

  parse     read a file and start a session
  map       decide what to do with a course name missing from the catalog
  preview   show what confirm would write
  confirm   write the training records
  back      return a session to an earlier step`,
		Example: `  trainingimport import parse history.csv --match email
  trainingimport import map 3f2a... --course "EMT Refresher" --action create_new --type certification
  trainingimport import preview 3f2a... --view unmatched
  trainingimport import confirm 3f2a...`,
	}

	cmd.AddCommand(
		newParseCommand(),
		newShowCommand(),
		newMapCommand(),
		newPreviewCommand(),
		newConfirmCommand(),
		newBackCommand(),
		newDeleteCommand(),
		newListCommand(),
		newTemplateCommand(),
	)
	return cmd
}

func newParseCommand() *cobra.Command {
	var match string

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse an import file and start a session",
		Long: `Parse a CSV or .xlsx file, match each row to a member and check course names
against the catalog. Exits 2 when the file itself cannot be read; problems with
individual rows are reported in the summary instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := core.ParseMatchStrategy(match)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return &core.FileError{FileName: filepath.Base(args[0]), Reason: "cannot open", Err: err}
			}
			defer f.Close()

			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			sess, err := svc.Parse(cmd.Context(), f, filepath.Base(args[0]), strategy)
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).session(sess)
		},
	}

	cmd.Flags().StringVar(&match, "match", string(core.MatchByEmail), "member match strategy: email, badge_number, name")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show a session's summary and unmatched courses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			sess, err := svc.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).session(sess)
		},
	}
}

func newMapCommand() *cobra.Command {
	var entry struct {
		course, action, target, trainingType string
	}

	cmd := &cobra.Command{
		Use:   "map <session>",
		Short: "Decide what to do with an unmatched course",
		Long: `Record the decision for one course name that is not in the catalog.

  map_existing  import the rows against an existing course (--target)
  create_new    create the course on confirm, optionally with --type
  skip          leave the rows out`,
		Example: `  trainingimport import map 3f2a... --course "CPR Recert" --action map_existing --target 8d1c...
  trainingimport import map 3f2a... --course "Yoga" --action skip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			sess, err := svc.UpsertMapping(cmd.Context(), args[0], core.CourseMappingEntry{
				CSVCourseName:    entry.course,
				Action:           core.MappingAction(strings.ToLower(strings.TrimSpace(entry.action))),
				ExistingCourseID: strings.TrimSpace(entry.target),
				TrainingType:     strings.TrimSpace(entry.trainingType),
			})
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).session(sess)
		},
	}

	f := cmd.Flags()
	f.StringVar(&entry.course, "course", "", "course name as it appears in the file")
	f.StringVar(&entry.action, "action", "", "map_existing, create_new or skip")
	f.StringVar(&entry.target, "target", "", "existing course ID for map_existing")
	f.StringVar(&entry.trainingType, "type", "", "training type for create_new")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newPreviewCommand() *cobra.Command {
	var view string

	cmd := &cobra.Command{
		Use:   "preview <session>",
		Short: "Show the rows confirm would write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := core.ParseView(view)
			if err != nil {
				return err
			}

			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := svc.Preview(cmd.Context(), args[0], v)
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).preview(p)
		},
	}

	cmd.Flags().StringVar(&view, "view", string(core.ViewAll), "rows to show: all, ready, unmatched, errored, skipped")
	return cmd
}

func newConfirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <session>",
		Short: "Write the previewed rows",
		Long: `Create any new courses and write a training record for every ready row.
Exits 1 if any row failed to write.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Confirm(cmd.Context(), args[0])
			if err != nil && res != nil {
				// Records were written; show them before reporting the save failure.
				_ = newRenderer(cmd.OutOrStdout(), a.cfg.Output).result(res)
			}
			if err != nil {
				return err
			}
			a.logger.Info("import confirmed", "session_id", args[0],
				"imported", res.Imported, "failed", res.Failed)

			if err := newRenderer(cmd.OutOrStdout(), a.cfg.Output).result(res); err != nil {
				return err
			}
			if res.Failed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d rows failed\n", res.Failed, res.Total)
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newBackCommand() *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "back <session>",
		Short: "Return a session to an earlier step",
		Long: `Return a session to uploaded, mapped or previewed. Going back to uploaded
clears every mapping decision; going back to mapped discards the preview.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := core.ParseStage(stage)
			if err != nil {
				return err
			}

			a := appFrom(cmd)
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			sess, err := svc.StepBack(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).session(sess)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", string(core.StageMapped), "stage to return to: uploaded, mapped, previewed")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Discard a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := appFrom(cmd).sessions()
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open import sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			store, err := a.sessions()
			if err != nil {
				return err
			}
			defer store.Close()

			if n, err := store.Purge(cmd.Context()); err != nil {
				return err
			} else if n > 0 {
				a.logger.Info("purged expired sessions", "count", n)
			}

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), a.cfg.Output).sessions(list)
		},
	}
}

func newTemplateCommand() *cobra.Command {
	var match, format, out string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a blank import file",
		Example: `  trainingimport import template --match badge_number > history.csv
  trainingimport import template --format xlsx --out history.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategy, err := core.ParseMatchStrategy(match)
			if err != nil {
				return err
			}

			var write func(io.Writer, core.MatchStrategy) error
			switch strings.ToLower(format) {
			case "csv":
				write = core.WriteTemplateCSV
			case "xlsx":
				write = core.WriteTemplateWorkbook
			default:
				return fmt.Errorf("format must be csv or xlsx, got %q", format)
			}

			if out == "" {
				return write(cmd.OutOrStdout(), strategy)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := write(f, strategy); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}

	f := cmd.Flags()
	f.StringVar(&match, "match", string(core.MatchByEmail), "member match strategy the template is for")
	f.StringVar(&format, "format", "csv", "csv or xlsx")
	f.StringVar(&out, "out", "", "output file (default: stdout)")
	return cmd
}
