package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fsundo/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the fsu state directory",
	Long:  `Create $HOME/.fsu with an object store and a default config.yaml.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		home := config.Home()

		// 1. 创建目录结构
		dirs := []string{home}
		if viper.GetString("storage.type") == "disk" {
			dirs = append(dirs, viper.GetString("storage.path"))
		}
		for _, dir := range dirs {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}

		// 2. 写入默认配置 (已存在则保留)
		cfgPath := filepath.Join(home, "config.yaml")
		f, err := os.OpenFile(cfgPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(out, "fsu already initialized in %s\n", home)
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := f.WriteString(config.DefaultFile); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Fprintf(out, "initialized fsu in %s\n", home)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
