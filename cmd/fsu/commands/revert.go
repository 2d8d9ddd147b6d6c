package commands

import (
	"fmt"
	"strings"

	"fsundo/pkg/history"

	"github.com/spf13/cobra"
)

var cascade bool

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the most recent command",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FSU == nil {
			return fmt.Errorf("app not initialized")
		}

		id, err := FSU.Buffer.RevertLast(cmd.Context())
		if err != nil {
			return err
		}
		c, err := FSU.Buffer.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %s %s [%s]\n", c.Kind, c.Source, id.Short())
		return nil
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <id>",
	Short: "Revert a command from history",
	Long: `Revert any past command by id (a unique prefix is enough).
Commands that still depend on it must be reverted first; --cascade reverts them
in one atomic step, newest first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if FSU == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmd.Context()

		id, err := FSU.Buffer.Resolve(args[0])
		if err != nil {
			return err
		}

		// 1. 有依赖阻塞：先交互式询问是否一起撤销，拒绝时返回冲突
		var opts []history.RevertOption
		if cascade {
			opts = append(opts, history.WithCascade())
		} else if !force {
			target, err := FSU.Buffer.Get(id)
			if err != nil {
				return err
			}
			blocking, err := FSU.Buffer.Blocking(id)
			if err != nil {
				return err
			}
			if !target.Reverted && len(blocking) > 0 {
				ok, cerr := confirm(
					fmt.Sprintf("%d later command(s) depend on %s. Revert them too?", len(blocking), id.Short()),
					shortIDs(blocking),
				)
				if cerr == nil && ok {
					opts = append(opts, history.WithCascade())
				}
			}
		}

		// 2. 未确认时由 Revert 报告 *ConflictError，不修改磁盘
		if err := FSU.Buffer.Revert(ctx, id, opts...); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", id.Short())
		return nil
	},
}

func shortIDs(ids []history.CommandID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.Short()
	}
	return strings.Join(parts, " ")
}

func init() {
	revertCmd.Flags().BoolVar(&cascade, "cascade", false, "also revert every command that depends on this one")
	rootCmd.AddCommand(undoCmd, revertCmd)
}
