package commands

import (
	"fmt"
	"io"
	"time"

	"fsundo/pkg/history"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	logAll     bool
	logLimit   int
	logReverts bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show command history",
	Long: `Display recorded commands, newest first. Reverted commands are hidden unless --all is given.
With --reverts, display the revert audit trail instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FSU == nil {
			return fmt.Errorf("app not initialized")
		}
		out := cmd.OutOrStdout()

		if logReverts {
			records, err := FSU.Reverts(cmd.Context(), logLimit)
			if err != nil {
				return fmt.Errorf("failed to read revert history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No reverts yet.")
				return nil
			}
			return printReverts(out, records, time.Now())
		}

		// 1. 倒序挑选
		all := FSU.Buffer.Commands()
		var rows []*history.Command
		for i := len(all) - 1; i >= 0; i-- {
			if logLimit > 0 && len(rows) == logLimit {
				break
			}
			if all[i].Reverted && !logAll {
				continue
			}
			rows = append(rows, all[i])
		}

		if len(rows) == 0 {
			fmt.Fprintln(out, "No commands yet.")
			return nil
		}
		return printLog(out, rows, time.Now())
	},
}

// printLog 以表格形式输出
func printLog(w io.Writer, cmds []*history.Command, now time.Time) error {
	var table = tablewriter.NewWriter(w)
	table.Header("ID", "Kind", "Object", "Mode", "Source", "Target", "Size", "State", "Age")

	for _, c := range cmds {
		state := "active"
		if c.Reverted {
			state = "reverted " + humanize.RelTime(c.RevertedAt, now, "ago", "from now")
		}
		var row = []string{
			c.ID.Short(),
			string(c.Kind),
			c.ObjectKind.String(),
			c.Mode.String(),
			c.Source,
			c.Target(),
			humanize.IBytes(uint64(max(c.Size, 0))),
			state,
			humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// printReverts 输出撤销审计记录，Reverted 列按实际撤销顺序排列
func printReverts(w io.Writer, records []history.RevertRecord, now time.Time) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Target", "Cascade", "Reverted", "When")

	for _, r := range records {
		var row = []string{
			r.Target.Short(),
			fmt.Sprintf("%t", r.Cascade),
			shortIDs(r.Reverted),
			humanize.RelTime(r.At, now, "ago", "from now"),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	logCmd.Flags().BoolVar(&logAll, "all", false, "include reverted commands")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum number of entries to show (0 = no limit)")
	logCmd.Flags().BoolVar(&logReverts, "reverts", false, "show the revert audit trail")
	rootCmd.AddCommand(logCmd)
}
