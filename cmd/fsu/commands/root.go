package commands

import (
	"context"
	"errors"
	"fmt"

	"fsundo/pkg/app"
	"fsundo/pkg/config"
	"fsundo/pkg/logging"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	force   bool
	verbose int

	// 全局应用实例，供子命令使用
	FSU *app.App
	// newFs 测试时可以替换成内存文件系统
	newFs = afero.NewOsFs
)

var rootCmd = &cobra.Command{
	Use:   "fsu",
	Short: "fsu: filesystem utility with undo",
	Long: `Delete, move and copy filesystem objects with a persistent history.
Any past command can be reverted as long as nothing that depends on it is still in effect.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. 配置与日志
		used, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := viper.GetString("log.level")
		switch {
		case verbose >= 2:
			level = "debug"
		case verbose == 1:
			level = "info"
		}
		if err := logging.Init(logging.Config{
			Level:      level,
			Format:     viper.GetString("log.format"),
			OutputPath: viper.GetString("log.output"),
		}); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		if used != "" {
			logging.L().Debug("using config file", zap.String("path", used))
		}

		// 跳过 init 命令的依赖检查 (因为它就是去创建环境的)
		if cmd.Name() == "init" {
			return nil
		}

		// 2. 统一初始化 App
		FSU, err = app.New(cmd.Context(), newFs(), logging.L())
		if err != nil {
			return fmt.Errorf("failed to initialize fsu: %w\n(Did you run 'fsu init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return finish()
	},
}

// finish 导出 metrics 并释放资源
// PersistentPostRunE 只在成功时运行，失败路径由 Execute 调用
func finish() error {
	if FSU == nil {
		return nil
	}
	var errs []error
	if path := viper.GetString("metrics.textfile"); path != "" {
		if err := FSU.Metrics.WriteToTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	errs = append(errs, FSU.Close())
	FSU = nil
	_ = logging.Sync()
	return errors.Join(errs...)
}

// Execute 是入口
func Execute() error {
	return ExecuteContext(context.Background())
}

func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// 失败时同样要记录 metrics (revert 失败计数) 并关闭数据库
		if ferr := finish(); ferr != nil {
			logging.L().Warn("cleanup failed", zap.Error(ferr))
		}
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()

	// 1. 定义全局参数
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fsu/config.yaml)")
	flags.BoolVarP(&force, "force", "f", false, "overwrite destination objects and skip confirmations")
	flags.CountVarP(&verbose, "verbose", "v", "print informational messages (-vv for debug)")

	// 2. 路径参数绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用命令行覆盖
	flags.String("storage-path", "", "directory to store backups")
	flags.String("history-path", "", "history database or journal file")
	cobra.CheckErr(viper.BindPFlag("storage.path", flags.Lookup("storage-path")))
	cobra.CheckErr(viper.BindPFlag("history.path", flags.Lookup("history-path")))
}
