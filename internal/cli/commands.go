package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	repository "github.com/okian/facequiz/internal/adapters/repository"
	service "github.com/okian/facequiz/internal/app"
	"github.com/okian/facequiz/internal/config"
	"github.com/okian/facequiz/internal/domain/model"
)

const exportFilePermission = 0o600

func newRunCommand(ctx *commandContext) *cobra.Command {
	var sessions int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play a batch of quiz sessions and learn from the answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withService(cmd, func(c context.Context, cfg *config.Config, svc *service.Service) error {
				n := cfg.Sessions
				if cmd.Flags().Changed("sessions") {
					n = sessions
				}
				if n < 1 {
					return fmt.Errorf("sessions must be at least 1, got %d", n)
				}

				out, err := svc.RunBatch(c, n)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if verbose {
					for _, line := range out.Log {
						fmt.Fprintln(w, line)
					}
				}
				fmt.Fprintln(w, renderTable(w, batchHeaders, batchRows(out), batchAligns))
				fmt.Fprintln(w, batchSummary(out))
				if out.PersistError != "" {
					return fmt.Errorf("persist associations: %s", out.PersistError)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&sessions, "sessions", "n", 1, "Number of sessions to play (defaults to the configured batch size)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the batch log before the summary")
	return cmd
}

var (
	batchHeaders = []string{"#", "Session", "Status", "Score", "Correct", "Learned"}
	batchAligns  = []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight}
)

func batchRows(out model.BatchOutcome) [][]string {
	rows := make([][]string, 0, len(out.Sessions))
	for i, s := range out.Sessions {
		status := string(s.Status)
		if i == out.BestSession {
			status += " *"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(s.SessionID),
			status,
			strconv.Itoa(s.Score),
			fmt.Sprintf("%d/%d", s.Correct, s.Guesses),
			strconv.Itoa(s.Learned),
		})
	}
	return rows
}

func batchSummary(out model.BatchOutcome) string {
	line := fmt.Sprintf("total score %d over %d sessions, %d/%d correct (%.0f%%)",
		out.TotalScore, out.Started, out.Correct, out.Guesses, out.Accuracy()*100)
	if out.EndedEarly > 0 {
		line += fmt.Sprintf(", %d ended early", out.EndedEarly)
	}
	if out.Aborted > 0 {
		line += fmt.Sprintf(", %d aborted", out.Aborted)
	}
	if out.Cancelled {
		line += ", cancelled"
	}
	return line
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <fingerprint>",
		Short: "Show the identity learned for a picture fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, _ *config.Config, svc *service.Service) error {
				identity, err := svc.Lookup(c, args[0])
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("fingerprint %s has not been learned", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), identity)
				return nil
			})
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "List the fingerprints learned for a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, _ *config.Config, svc *service.Service) error {
				fps, err := svc.SearchByIdentity(c, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, fp := range fps {
					fmt.Fprintln(w, fp)
				}
				return nil
			})
		},
	}
}

func newLetterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "letter <letter>",
		Short: "List the known names starting with a letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, _ *config.Config, svc *service.Service) error {
				names, err := svc.SearchByLetter(c, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, name := range names {
					fmt.Fprintln(w, name)
				}
				return nil
			})
		},
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every learned association as a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withService(cmd, func(c context.Context, _ *config.Config, svc *service.Service) error {
				doc, err := svc.ExportDocument(c)
				if err != nil {
					return err
				}
				if output == "" {
					_, err = cmd.OutOrStdout().Write(doc)
					return err
				}
				if err := os.WriteFile(output, doc, exportFilePermission); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d associations to %s\n", svc.Count(c), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty)")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an association document into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return ctx.withService(cmd, func(c context.Context, _ *config.Config, svc *service.Service) error {
				report, err := svc.ImportDocument(c, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d, kept %d, skipped %d\n", report.Added, report.Kept, report.Skipped)
				return nil
			})
		},
	}
}
