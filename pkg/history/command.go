package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"fsundo/pkg/object"
	"fsundo/pkg/snapshot"
	"fsundo/pkg/types"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Kind 命令类型
type Kind string

const (
	KindMove   Kind = "move"
	KindCopy   Kind = "copy"
	KindDelete Kind = "delete"
)

// ParseKind 解析持久化的命令类型
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMove, KindCopy, KindDelete:
		return k, nil
	default:
		return "", fmt.Errorf("unknown command kind %q", s)
	}
}

// Env 命令执行所需的外部依赖
type Env struct {
	Fs     afero.Fs
	Vault  *snapshot.Vault
	Logger *zap.Logger
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Command 一次已记录 (或即将执行) 的文件系统修改
//
// ID、Kind、ObjectKind、Source、Destination 在追加到日志后不再变化；
// 只有 Reverted / RevertedAt 会在撤销时更新。
type Command struct {
	ID          CommandID
	Kind        Kind
	ObjectKind  object.Kind
	Source      string
	Destination string // delete 时为空

	// Digest 执行时对象的内容指纹 (copy 为副本的指纹)
	Digest types.Digest
	Mode   object.Mode
	Size   int64

	// Overwrite 允许替换 Target() 处已有的对象
	Overwrite bool
	// Backup 源对象的快照 id (delete / move)
	Backup types.Hash
	// Displaced 被覆盖掉的原占用者的快照 id
	Displaced types.Hash

	Executed   bool
	Reverted   bool
	CreatedAt  time.Time
	RevertedAt time.Time
}

// Option 命令构造选项
type Option func(*Command)

// WithOverwrite 对应 --force：目标位置被占用时先备份再替换
func WithOverwrite() Option {
	return func(c *Command) { c.Overwrite = true }
}

// NewCommand 为 obj 构造一条新命令，记录它当前的指纹
func NewCommand(kind Kind, obj *object.Object, destination string, opts ...Option) (*Command, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	c := &Command{
		Kind:       kind,
		ObjectKind: obj.Kind(),
		Source:     obj.Path(),
	}

	// 1. 目标目录：move/copy 必填，delete 禁止
	switch {
	case kind == KindDelete && destination != "":
		return nil, errors.New("delete does not take a destination")
	case kind != KindDelete && destination == "":
		return nil, fmt.Errorf("%s requires a destination directory", kind)
	case destination != "":
		dest, err := object.Abs(destination)
		if err != nil {
			return nil, err
		}
		c.Destination = dest
	}

	// 2. 指纹与权限
	digest, err := obj.Digest()
	if err != nil {
		return nil, err
	}
	mode, err := obj.Mode()
	if err != nil {
		return nil, err
	}
	c.Digest = digest
	c.Mode = mode

	for _, opt := range opts {
		opt(c)
	}

	// 3. id 最后生成，保证构造成功的命令 id 单调
	id, err := NewCommandID()
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.CreatedAt = id.Time()
	return c, nil
}

// Target 命令执行后对象所在的路径
// move/copy: Destination/base(Source)；delete: Source
func (c *Command) Target() string {
	if c.Kind == KindDelete || c.Destination == "" {
		return c.Source
	}
	return filepath.Join(c.Destination, filepath.Base(c.Source))
}

// Execute 执行命令，至多一次
func (c *Command) Execute(ctx context.Context, env Env) error {
	if c.Executed {
		return ErrAlreadyExecuted
	}

	// 1. 重新打开并校验源对象
	obj, err := object.OpenExisting(env.Fs, c.Source)
	if err != nil {
		return err
	}
	if obj.Kind() != c.ObjectKind {
		return &object.ValidationError{Path: c.Source, Reason: object.WrongType, Expected: c.ObjectKind, Got: obj.Kind()}
	}

	// 2. 处理目标位置的占用者
	target := c.Target()
	if c.Kind != KindDelete {
		if err := c.displace(ctx, env, target); err != nil {
			return err
		}
	}

	// 3. 执行
	if err := c.execute(ctx, env, obj); err != nil {
		if c.Displaced != "" {
			if rerr := env.Vault.Restore(ctx, c.Displaced, target); rerr != nil {
				env.logger().Error("failed to restore displaced object",
					zap.String("path", target), zap.String("snapshot", c.Displaced.Short()), zap.Error(rerr))
				err = errors.Join(err, rerr)
			}
			c.Displaced = ""
		}
		return err
	}

	c.Executed = true
	env.logger().Info("command executed",
		zap.Stringer("id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("source", c.Source),
		zap.String("target", target),
	)
	return nil
}

// displace 目标被占用时：没有 Overwrite 直接失败，否则备份后移除
func (c *Command) displace(ctx context.Context, env Env, target string) error {
	err := object.NotExist(env.Fs, target)
	if err == nil {
		return nil
	}

	var taken *object.NameTakenError
	if !errors.As(err, &taken) || !c.Overwrite {
		return err
	}
	// 不能用 "覆盖" 删掉源对象自己或它的祖先
	if target == c.Source || object.IsAncestor(target, c.Source) {
		return err
	}

	occupant, err := object.OpenExisting(env.Fs, target)
	if err != nil {
		return err
	}
	res, err := env.Vault.Capture(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to back up %s before overwriting: %w", target, err)
	}
	if err := occupant.Delete(); err != nil {
		return err
	}
	c.Displaced = res.ID

	env.logger().Debug("displaced existing object", zap.String("path", target), zap.String("snapshot", res.ID.Short()))
	return nil
}

func (c *Command) execute(ctx context.Context, env Env, obj *object.Object) error {
	switch c.Kind {
	case KindDelete:
		if err := c.backup(ctx, env); err != nil {
			return err
		}
		return obj.Delete()

	case KindMove:
		if err := c.backup(ctx, env); err != nil {
			return err
		}
		return obj.MoveTo(c.Destination)

	case KindCopy:
		cp, err := obj.CopyTo(c.Destination)
		if err != nil {
			return err
		}
		// 记录副本的实际指纹，之后用它判断副本是否被修改
		digest, err := cp.Digest()
		if err != nil {
			_ = cp.Delete()
			return err
		}
		size, err := cp.Size()
		if err != nil {
			_ = cp.Delete()
			return fmt.Errorf("failed to measure copy %s: %w", cp.Path(), err)
		}
		c.Digest = digest
		c.Size = size
		return nil

	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
}

// backup 在修改之前把源对象存入 Store
func (c *Command) backup(ctx context.Context, env Env) error {
	res, err := env.Vault.Capture(ctx, c.Source)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", c.Source, err)
	}
	c.Backup = res.ID
	c.Digest = res.Digest
	c.Size = res.Size
	return nil
}

// Revert 单独撤销这条命令 (不经过历史缓冲区)
// 先做漂移检查，任何检查失败都不会修改文件系统
func (c *Command) Revert(ctx context.Context, env Env) error {
	if !c.Executed {
		return ErrNotExecuted
	}
	if c.Reverted {
		return ErrAlreadyReverted
	}

	if err := c.check(ctx, env, newOverlay(env.Fs)); err != nil {
		return err
	}
	if _, err := c.apply(ctx, env); err != nil {
		return err
	}

	c.Reverted = true
	c.RevertedAt = time.Now()
	return nil
}
