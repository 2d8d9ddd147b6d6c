package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DirName 状态目录名 ($HOME/.fsu)
const DirName = ".fsu"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
// 返回实际使用的配置文件，没有找到时为空
func Load(cfgFile string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	// 1. 设置默认值 (Defaults)
	setDefaults(filepath.Join(home, DirName))

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录，当前目录下的 .fsu，用户主目录下的 .fsu
		viper.AddConfigPath(".")
		viper.AddConfigPath(DirName)
		viper.AddConfigPath(filepath.Join(home, DirName))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (FSU_STORAGE_TYPE 等)
	viper.SetEnvPrefix("FSU")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 只是没找到配置文件不算错，格式错才是
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("fatal error config file: %w", err)
	}
	return viper.ConfigFileUsed(), nil
}

func setDefaults(home string) {
	viper.SetDefault("home", home)

	// 存储默认值
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(home, "objects"))
	viper.SetDefault("storage.compression", "zstd")
	viper.SetDefault("storage.capture_workers", 1)
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("cache.ttl", "24h")

	// 历史日志
	viper.SetDefault("history.driver", "sqlite")

	// 数据库默认值 (history.driver = postgres)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "fsu")
	viper.SetDefault("database.dbname", "fsu")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stderr")
}

// Home 状态目录
func Home() string {
	return viper.GetString("home")
}

// HistoryPath 历史日志的位置，未配置时按驱动选择默认文件名
func HistoryPath() string {
	if p := viper.GetString("history.path"); p != "" {
		return p
	}
	if viper.GetString("history.driver") == "json" {
		return filepath.Join(Home(), "history.json")
	}
	return filepath.Join(Home(), "history.db")
}

// DefaultFile fsu init 写入的配置模板
const DefaultFile = `# fsu configuration
storage:
  type: disk          # disk | s3
  compression: zstd   # none | zstd
  capture_workers: 1  # 目录备份时并发写入的子项数
  # s3:
  #   endpoint: http://localhost:9000
  #   bucket: fsu-backups
# cache:
#   redis_url: redis://localhost:6379/0
#   ttl: 24h
history:
  driver: sqlite      # sqlite | postgres | json
log:
  level: warn
protect:
  rules: []
`
