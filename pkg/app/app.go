// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"fsundo/pkg/config"
	"fsundo/pkg/guard"
	"fsundo/pkg/history"
	"fsundo/pkg/journal"
	"fsundo/pkg/meta"
	"fsundo/pkg/metrics"
	"fsundo/pkg/snapshot"
	"fsundo/pkg/storage"
	"fsundo/pkg/storage/cache"
	"fsundo/pkg/storage/disk"
	"fsundo/pkg/storage/s3"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Auditor 能列出撤销审计记录的日志实现
type Auditor interface {
	ListReverts(ctx context.Context, limit int) ([]history.RevertRecord, error)
}

// App 是整个应用程序的依赖容器 (Dependency Container)
// 一个进程只有一个 App，它拥有 Buffer
type App struct {
	Fs      afero.Fs
	Store   storage.Store
	Vault   *snapshot.Vault
	Log     history.Log
	Buffer  *history.Buffer
	Guard   *guard.Matcher
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Home    string

	closers []io.Closer
}

// New 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func New(ctx context.Context, fsys afero.Fs, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	home := config.Home()
	if home == "" {
		return nil, errors.New("state directory not set")
	}

	a = &App{Fs: fsys, Logger: logger, Home: home, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// 1. 受保护的路径
	a.Guard, err = guard.NewMatcher(home, viper.GetStringSlice("protect.rules"))
	if err != nil {
		return nil, fmt.Errorf("failed to load protect rules: %w", err)
	}

	// 2. 存储层
	a.Store, err = initStore(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	if c, ok := a.Store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.Vault = snapshot.NewVault(a.Store, fsys, logger.Named("vault"))
	a.Vault.SetCaptureWorkers(viper.GetInt("storage.capture_workers"))

	// 3. 历史日志
	var closer io.Closer
	a.Log, closer, err = initLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	// 4. 从日志重建 Buffer
	env := history.Env{Fs: fsys, Vault: a.Vault, Logger: logger.Named("history")}
	a.Buffer, err = history.Load(ctx, env, a.Log, history.WithObserver(a.Metrics))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// initStore 根据 storage.type 创建后端，配置了 Redis 时再包一层缓存
func initStore(ctx context.Context, logger *zap.Logger) (storage.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store storage.Store
		err   error
	)

	storageType := viper.GetString("storage.type")
	switch storageType {
	case "disk", "":
		compression, cerr := disk.ParseCompression(viper.GetString("storage.compression"))
		if cerr != nil {
			return nil, cerr
		}
		store, err = disk.NewAdapter(viper.GetString("storage.path"), disk.WithCompression(compression))

	case "s3":
		store, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
			Logger:          logger.Named("s3"),
		})

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
	if err != nil {
		return nil, err
	}

	redisURL := viper.GetString("cache.redis_url")
	if redisURL == "" {
		return store, nil
	}
	cached, err := cache.NewCachedStore(store, cache.Config{
		RedisURL: redisURL,
		TTL:      viper.GetDuration("cache.ttl"),
		Logger:   logger.Named("cache"),
	})
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// initLog 根据 history.driver 打开命令日志
func initLog(ctx context.Context) (history.Log, io.Closer, error) {
	driver := viper.GetString("history.driver")
	switch driver {
	case "json":
		j, err := journal.Open(config.HistoryPath())
		if err != nil {
			return nil, nil, err
		}
		return j, nil, nil

	case "sqlite", "postgres", "":
		db, err := meta.NewDB(ctx, meta.Config{
			Driver:   driver,
			Path:     config.HistoryPath(),
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		})
		if err != nil {
			return nil, nil, err
		}
		return meta.NewRepository(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unsupported history driver: %s", driver)
	}
}

// Reverts 最近的撤销审计记录；日志实现不支持时返回 nil
func (a *App) Reverts(ctx context.Context, limit int) ([]history.RevertRecord, error) {
	if auditor, ok := a.Log.(Auditor); ok {
		return auditor.ListReverts(ctx, limit)
	}
	return nil, nil
}

// Close 释放数据库连接和缓存连接
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
