package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/ui/report"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Manage the item bank",
}

var bankImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import item bank files, replacing items with the same id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var tools []string
		for _, path := range args {
			bank, err := itembank.LoadFile(path)
			if err != nil {
				return err
			}
			n, err := st.Items().UpsertItems(ctx, bank.Items)
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			tools = append(tools, bank.Tool)
			logger.Info("imported item bank", "file", path, "tool", bank.Tool, "items", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items for %s\n", path, n, bank.Tool)
		}

		// Running servers share the Redis cache; drop stale entries.
		if cfg.RedisAddr != "" {
			rb, err := itembank.NewRedisBackend(ctx, cfg.RedisAddr, cfg.CacheTTL)
			if err != nil {
				return fmt.Errorf("connect item cache: %w", err)
			}
			defer rb.Close()
			if err := rb.Delete(ctx, tools...); err != nil {
				return fmt.Errorf("invalidate item cache: %w", err)
			}
		}
		return nil
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools in the item bank",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tools, err := st.Items().ListTools(cmd.Context())
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		if len(tools) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No items imported yet.")
			return nil
		}

		rows := make([][]string, 0, len(tools))
		for _, t := range tools {
			rows = append(rows, []string{t.ToolID, strconv.Itoa(t.Items), strings.Join(t.Categories, ", ")})
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Tool", "Items", "Categories"}, rows))
		return err
	},
}

var bankQuarantineCmd = &cobra.Command{
	Use:   "quarantine [item-id]",
	Short: "Exclude an item from selection, or list quarantined items",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			reason, _ := cmd.Flags().GetString("reason")
			if err := st.Items().QuarantineItem(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quarantined %s. Re-import the item to restore it.\n", args[0])
			return nil
		}

		items, err := st.Items().ListQuarantined(cmd.Context())
		if err != nil {
			return fmt.Errorf("list quarantine: %w", err)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No quarantined items.")
			return nil
		}
		rows := make([][]string, 0, len(items))
		for _, q := range items {
			rows = append(rows, []string{q.ItemID, q.Reason, q.CreatedAt.Local().Format("2006-01-02 15:04:05")})
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Item", "Reason", "Since"}, rows))
		return err
	},
}

func init() {
	bankImportCmd.Flags().String("redis-addr", "", "Redis item cache to invalidate after import")
	bankQuarantineCmd.Flags().String("reason", "quarantined by operator", "Reason recorded with the quarantine")

	bankCmd.AddCommand(bankImportCmd)
	bankCmd.AddCommand(bankListCmd)
	bankCmd.AddCommand(bankQuarantineCmd)
}
