package cmd

import (
	"encoding/json"
	"fmt"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/assessment"
	"github.com/abhisek/adaptiq/internal/coach"
	"github.com/abhisek/adaptiq/internal/llm"
	"github.com/abhisek/adaptiq/internal/ui/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <attempt-id>",
	Short: "Show the score report of a completed attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		withPlan, _ := cmd.Flags().GetBool("plan")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		att, err := st.Attempts().LoadAttemptState(ctx, args[0])
		if err != nil {
			return err
		}
		if att.Report == nil {
			return fmt.Errorf("attempt %s has no report yet (status %s)", att.ID, att.Status)
		}

		res := assessment.Result{Report: *att.Report}
		if withPlan {
			provider, err := llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), logger)
			if err != nil {
				logger.Warn("LLM provider not configured, using rules", "error", err)
				provider = nil
			}
			plan := coach.New(provider, coach.DefaultConfig(), logger).Plan(ctx, att.ToolID, res.Report)
			res.Plan = &plan
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Attempt(res.Report, res.Plan, 0))
		return err
	},
}

func init() {
	reportCmd.Flags().Bool("plan", false, "Add a study plan")
	reportCmd.Flags().Bool("json", false, "Print JSON instead of a formatted report")
}
