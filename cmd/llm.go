package cmd

import (
	"fmt"
	"strconv"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/llm"
	"github.com/abhisek/adaptiq/internal/ui/report"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect language model usage",
}

var llmUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and estimated cost per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		usage, err := st.EventRepo().LLMUsage(cmd.Context())
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}
		if len(usage) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No LLM usage recorded yet.")
			return nil
		}

		var (
			rows      [][]string
			totalCost float64
			unpriced  bool
		)
		for _, u := range usage {
			cost := "?"
			if mc, ok := llm.LookupCost(u.Model); ok {
				c := mc.Cost(u.InputTokens, u.OutputTokens)
				totalCost += c
				cost = formatCost(c)
			} else {
				unpriced = true
			}
			rows = append(rows, []string{
				u.Provider, u.Model,
				strconv.Itoa(u.Requests), strconv.Itoa(u.Failures),
				strconv.FormatInt(u.InputTokens, 10), strconv.FormatInt(u.OutputTokens, 10),
				cost,
			})
		}
		label := "TOTAL"
		if unpriced {
			label = "TOTAL (partial)"
		}
		rows = append(rows, []string{label, "", "", "", "", "", formatCost(totalCost)})

		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Table(
			[]string{"Provider", "Model", "Calls", "Failed", "Input", "Output", "Cost (USD)"}, rows))
		return err
	},
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	llmCmd.AddCommand(llmUsageCmd)
}
