package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"fsundo/pkg/history"
	"fsundo/pkg/object"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// errAborted 用户在确认提示中选择了 "否"
var errAborted = errors.New("aborted")

// confirm 交互式确认，测试时可替换
var confirm = func(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation failed (use --force in non-interactive shells): %w", err)
	}
	return ok, nil
}

// mutate 是 delete / move / copy 的共同流程：
// 校验参数，检查受保护路径，必要时提示确认，执行并记录
func mutate(cmd *cobra.Command, kind history.Kind, src, dest string) error {
	if FSU == nil {
		return fmt.Errorf("app not initialized")
	}

	// 1. 校验对象
	obj, err := object.OpenExisting(FSU.Fs, src)
	if err != nil {
		return err
	}
	if err := FSU.Guard.Check(obj.Path()); err != nil {
		return err
	}

	var opts []history.Option
	if kind != history.KindDelete {
		// 2. 检查目标位置
		dest, err = object.Abs(dest)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.Base(obj.Path()))
		if err := FSU.Guard.Check(target); err != nil {
			return err
		}

		var taken *object.NameTakenError
		if err := object.NotExist(FSU.Fs, target); errors.As(err, &taken) {
			ok := force
			if !ok {
				ok, err = confirm(fmt.Sprintf("%s already exists. Overwrite?", target),
					"The existing object is backed up and comes back when this command is reverted.")
				if err != nil {
					return err
				}
			}
			if !ok {
				return taken
			}
			opts = append(opts, history.WithOverwrite())
		} else if err != nil {
			return err
		}
	} else if obj.Kind() == object.KindDir && !force {
		// 3. 递归删除目录前提示
		ok, err := confirm(fmt.Sprintf("Delete directory %s recursively?", obj.Path()),
			"It can be restored with 'fsu undo'.")
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	// 4. 执行并写入历史
	c, err := history.NewCommand(kind, obj, dest, opts...)
	if err != nil {
		return err
	}
	id, err := FSU.Buffer.Execute(cmd.Context(), c)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch kind {
	case history.KindDelete:
		fmt.Fprintf(out, "deleted %s [%s]\n", c.Source, id.Short())
	case history.KindMove:
		fmt.Fprintf(out, "moved %s -> %s [%s]\n", c.Source, c.Target(), id.Short())
	case history.KindCopy:
		fmt.Fprintf(out, "copied %s -> %s [%s]\n", c.Source, c.Target(), id.Short())
	}
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete an object",
	Long:  `Delete files, directories (recursively), or other filesystem objects. All deleted objects can be restored from history.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, history.KindDelete, args[0], "")
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <src> <dst-dir>",
	Short: "Move an object to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, history.KindMove, args[0], args[1])
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dst-dir>",
	Short: "Copy an object to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, history.KindCopy, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd, moveCmd, copyCmd)
}
