package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataprofiler/dashboard/internal/events"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/session"
)

var (
	analyzeWaitOpen time.Duration
	analyzeNoSave   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Run one analysis job and print its progress",
	Long: `Upload a CSV file to the profiling service, print every status change
reported by the engine, then print the report summary or the classified error.

Examples:
  dashboard analyze customers.csv
  dashboard analyze --wait-open 0 customers.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeWaitOpen, "wait-open", 2*time.Second, "how long to wait for the push stream before starting")
	analyzeCmd.Flags().BoolVar(&analyzeNoSave, "no-save", false, "do not store the report in history")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := models.NewFileFromPath(args[0])
	if err != nil {
		return err
	}

	var sess *session.Manager
	if analyzeNoSave {
		sess, err = mountSession(nil)
	} else {
		reports, rerr := openReports()
		if rerr != nil {
			return fmt.Errorf("open report history: %w", rerr)
		}
		defer reports.Close()
		sess, err = mountSession(reports)
	}
	if err != nil {
		return fmt.Errorf("mount session: %w", err)
	}
	defer sess.Close()

	waitOpen(sess, analyzeWaitOpen)

	result, err := runJob(ctx, sess, file, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), result)
	if !result.Succeeded() {
		return fmt.Errorf("analysis failed: %s", result.ErrorKind)
	}
	return nil
}

// waitOpen gives the push stream a moment so the job starts in reading.
func waitOpen(sess *session.Manager, d time.Duration) {
	deadline := time.Now().Add(d)
	for sess.ReadyState() != events.Open && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// runJob starts a job and prints each published status until it settles.
func runJob(ctx context.Context, sess *session.Manager, file *models.FileInfo, out io.Writer) (*models.JobResult, error) {
	updates, unsubscribe := sess.Subscribe(64)
	defer unsubscribe()

	job, err := sess.Upload(file)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "job %s: %s (%d bytes)\n", job.ID, file.Name, file.Size)

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return job.Wait(ctx)
			}
			printSnapshot(out, snap)
		case <-job.Done():
			// Drain what was published before settlement.
			for {
				select {
				case snap := <-updates:
					printSnapshot(out, snap)
				case <-time.After(50 * time.Millisecond):
					return job.Result(), nil
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func printSnapshot(out io.Writer, snap models.StatusSnapshot) {
	if snap.Status.ShowsProgress() {
		fmt.Fprintf(out, "  %-16s %3d%%\n", snap.Status, snap.EffectiveProgress())
		return
	}
	fmt.Fprintf(out, "  %s\n", snap.Status)
}

func printResult(out io.Writer, result *models.JobResult) {
	if !result.Succeeded() {
		fmt.Fprintf(out, "\nError (%s): %s\n", result.ErrorKind, result.Message)
		if result.Details != "" {
			fmt.Fprintf(out, "  %s\n", result.Details)
		}
		return
	}

	r := result.Report
	fmt.Fprintf(out, "\n%s: %d rows, %d columns (%s)\n", r.NameFile, r.TotalMaxRows, r.TotalColumns, result.Duration().Round(time.Millisecond))
	for _, col := range r.Columns {
		fmt.Fprintf(out, "  %-24s %-8s filled %5.1f%%  blank %d\n", col.Name, col.MainType, col.FilledRatio*100, col.BlankCount)
	}
}
