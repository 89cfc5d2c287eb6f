package cmd

import (
	"fmt"
	"strconv"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/store"
	"github.com/abhisek/adaptiq/internal/ui/report"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect and manage attempts",
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := store.ListOpts{}
		opts.TakerID, _ = cmd.Flags().GetString("taker")
		opts.ToolID, _ = cmd.Flags().GetString("tool")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		opts.Status = attempt.Status(status)
		if status != "" && !opts.Status.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.Attempts().ListAttempts(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("list attempts: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No attempts found.")
			return nil
		}

		rows := make([][]string, 0, len(list))
		for _, a := range list {
			theta := "-"
			if a.Theta != nil && a.SE != nil {
				theta = fmt.Sprintf("%+.2f ± %.2f", *a.Theta, *a.SE)
			}
			flagged := ""
			if a.Flagged {
				flagged = "!"
			}
			rows = append(rows, []string{
				a.ID, a.TakerID, a.ToolID, string(a.Status) + flagged,
				strconv.Itoa(a.ItemCount), theta, string(a.StopReason),
				a.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Table(
			[]string{"ID", "Taker", "Tool", "Status", "Items", "Ability", "Stop", "Created"}, rows))
		return err
	},
}

var attemptsAbandonCmd = &cobra.Command{
	Use:   "abandon <attempt-id>",
	Short: "Abandon an open attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Attempts().AbandonAttempt(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s.\n", args[0])
		return nil
	},
}

func init() {
	attemptsListCmd.Flags().String("taker", "", "Filter by taker id")
	attemptsListCmd.Flags().String("tool", "", "Filter by tool id")
	attemptsListCmd.Flags().String("status", "", "Filter by status (created, in_progress, completed, abandoned)")
	attemptsListCmd.Flags().IntP("limit", "n", 20, "Number of attempts to show")

	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsAbandonCmd)
}
