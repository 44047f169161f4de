package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List stored reports",
	Long: `List the report history, newest first.

Subcommands:
  show <id>    print one report as JSON
  delete <id>  remove one report`,
	Args: cobra.NoArgs,
	RunE: runListReports,
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowReport,
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteReport,
}

func init() {
	reportsCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 20, "max results")
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
}

func runListReports(cmd *cobra.Command, args []string) error {
	store, err := openReports()
	if err != nil {
		return fmt.Errorf("open report history: %w", err)
	}
	defer store.Close()

	list, err := store.List(reportsLimit)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reports found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tROWS\tCOLUMNS\tCREATED")
	for _, rec := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", rec.ID, rec.FileName, rec.TotalRows, rec.TotalColumns, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runShowReport(cmd *cobra.Command, args []string) error {
	store, err := openReports()
	if err != nil {
		return fmt.Errorf("open report history: %w", err)
	}
	defer store.Close()

	rec, err := store.Get(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runDeleteReport(cmd *cobra.Command, args []string) error {
	store, err := openReports()
	if err != nil {
		return fmt.Errorf("open report history: %w", err)
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
