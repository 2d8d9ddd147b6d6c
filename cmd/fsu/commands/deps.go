package commands

import (
	"fmt"

	"fsundo/pkg/history"

	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps <id>",
	Short: "Show what a command depends on and what depends on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if FSU == nil {
			return fmt.Errorf("app not initialized")
		}

		buf := FSU.Buffer
		id, err := buf.Resolve(args[0])
		if err != nil {
			return err
		}
		c, err := buf.Get(id)
		if err != nil {
			return err
		}

		dependsOn, err := buf.Dependencies(id)
		if err != nil {
			return err
		}
		direct, err := buf.DirectDependents(id)
		if err != nil {
			return err
		}
		closure, err := buf.DependencyClosure(id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s %s\n", id.Short(), c.Kind, c.Source)
		printIDs := func(label string, ids []history.CommandID) {
			fmt.Fprintf(out, "  %-16s", label)
			if len(ids) == 0 {
				fmt.Fprint(out, " -")
			}
			for _, dep := range ids {
				marker := ""
				if d, err := buf.Get(dep); err == nil && d.Reverted {
					marker = "(reverted)"
				}
				fmt.Fprintf(out, " %s%s", dep.Short(), marker)
			}
			fmt.Fprintln(out)
		}
		printIDs("depends on:", dependsOn)
		printIDs("dependents:", direct)
		printIDs("all dependents:", closure)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(depsCmd)
}
