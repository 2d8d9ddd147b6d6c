package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"fsundo/pkg/object"
	"fsundo/pkg/types"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// fact 某个路径在模拟过程中的状态
type fact struct {
	exists bool
	// known 为 false 时只知道路径存在，不知道内容 (位于一个还原出来的目录里)
	known  bool
	kind   object.Kind
	digest types.Digest

	// pending 为 true 时 path 下有模拟中的改动，磁盘上的指纹已不可信
	// 只校验类型，内容留给 apply 阶段的 openUnchanged 在真实磁盘上核对
	pending bool
}

// overlay 是文件系统之上的一层虚拟视图
// 撤销计划在真正动手之前，先在这里按顺序模拟每一步的前置条件
type overlay struct {
	fs    afero.Fs
	facts map[string]fact
}

func newOverlay(fsys afero.Fs) *overlay {
	return &overlay{fs: fsys, facts: make(map[string]fact)}
}

// lookup 查询 path 的状态；withDigest 为 false 时不计算指纹
//  1. 精确命中的记录优先
//  2. 最近的祖先记录: 不存在 => path 不存在；存在 => 内容未知
//  3. 否则读真实磁盘
func (o *overlay) lookup(path string, withDigest bool) (fact, error) {
	if f, ok := o.facts[path]; ok {
		return f, nil
	}

	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if f, ok := o.facts[dir]; ok {
			if !f.exists {
				return fact{known: true}, nil
			}
			return fact{exists: true}, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}

	info, err := object.Lstat(o.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return fact{known: true}, nil
	}
	if err != nil {
		return fact{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	kind, err := object.KindOf(info.Mode())
	if err != nil {
		return fact{}, fmt.Errorf("%s: %w", path, err)
	}
	f := fact{exists: true, known: true, kind: kind}
	if withDigest && o.touchedUnder(path) {
		f.pending = true
		return f, nil
	}
	if withDigest {
		_, f.digest, err = object.DigestPath(o.fs, path)
		if err != nil {
			return fact{}, err
		}
	}
	return f, nil
}

// touchedUnder path 之下是否有模拟记录
func (o *overlay) touchedUnder(path string) bool {
	for p := range o.facts {
		if object.IsAncestor(path, p) {
			return true
		}
	}
	return false
}

// set 记录 path 的新状态，丢弃它下面的旧记录
func (o *overlay) set(path string, f fact) {
	for p := range o.facts {
		if object.IsAncestor(path, p) {
			delete(o.facts, p)
		}
	}
	o.facts[path] = f
}

// requireFree 模拟视图中 path 必须空闲
func (o *overlay) requireFree(path string) error {
	f, err := o.lookup(path, false)
	if err != nil {
		return err
	}
	if f.exists && f.known {
		return &object.NameTakenError{Path: path}
	}
	return nil
}

// check 在 overlay 上模拟撤销这条命令：
// 校验前置条件 (漂移、占用、备份是否存在)，成功后把撤销后的状态写回 overlay
func (c *Command) check(ctx context.Context, env Env, ov *overlay) error {
	target := c.Target()

	switch c.Kind {
	case KindDelete:
		if err := c.requireSnapshot(ctx, env, c.Backup); err != nil {
			return err
		}
		if err := ov.requireFree(c.Source); err != nil {
			return err
		}
		ov.set(c.Source, fact{exists: true, known: true, kind: c.ObjectKind, digest: c.Digest})
		return nil

	case KindMove:
		if err := c.requireUnchanged(ov, target); err != nil {
			return err
		}
		if err := ov.requireFree(c.Source); err != nil {
			return err
		}
		ov.set(target, fact{known: true})
		ov.set(c.Source, fact{exists: true, known: true, kind: c.ObjectKind, digest: c.Digest})
		return c.checkDisplaced(ctx, env, ov, target)

	case KindCopy:
		f, err := ov.lookup(target, true)
		if err != nil {
			return err
		}
		if f.known {
			if !f.exists {
				return &DriftError{ID: c.ID, Path: target, Missing: true}
			}
			if f.kind != c.ObjectKind || (!f.pending && f.digest != c.Digest) {
				return &DivergedCopyError{ID: c.ID, Path: target, Expected: c.Digest, Got: f.digest}
			}
		}
		ov.set(target, fact{known: true})
		return c.checkDisplaced(ctx, env, ov, target)

	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
}

// requireUnchanged target 处必须是执行时的那个对象
func (c *Command) requireUnchanged(ov *overlay, target string) error {
	f, err := ov.lookup(target, true)
	if err != nil {
		return err
	}
	if !f.known {
		return nil
	}
	if !f.exists {
		return &DriftError{ID: c.ID, Path: target, Missing: true}
	}
	if f.kind != c.ObjectKind || (!f.pending && f.digest != c.Digest) {
		return &DriftError{
			ID:             c.ID,
			Path:           target,
			ExpectedKind:   c.ObjectKind,
			GotKind:        f.kind,
			ExpectedDigest: c.Digest,
			GotDigest:      f.digest,
		}
	}
	return nil
}

func (c *Command) checkDisplaced(ctx context.Context, env Env, ov *overlay, target string) error {
	if c.Displaced == "" {
		return nil
	}
	snap, err := env.Vault.Stat(ctx, c.Displaced)
	if err != nil {
		return fmt.Errorf("%w: displaced object of %s (%s): %v", ErrMissingBackup, c.ID.Short(), c.Displaced.Short(), err)
	}
	ov.set(target, fact{exists: true, known: true, kind: snap.Kind, digest: snap.Digest})
	return nil
}

func (c *Command) requireSnapshot(ctx context.Context, env Env, id types.Hash) error {
	if id == "" {
		return fmt.Errorf("%w: command %s has no backup", ErrMissingBackup, c.ID.Short())
	}
	ok, err := env.Vault.Has(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: command %s (%s)", ErrMissingBackup, c.ID.Short(), id.Short())
	}
	return nil
}

// compensator 撤销一个已完成的物理步骤
type compensator func(ctx context.Context) error

// rollback 按相反顺序执行补偿
type rollback []compensator

func (r rollback) run(ctx context.Context) error {
	var errs []error
	for i := len(r) - 1; i >= 0; i-- {
		if err := r[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// apply 在真实文件系统上撤销这条命令
// 成功时返回能把它重新做一遍的补偿函数；失败时已完成的子步骤会被回滚
func (c *Command) apply(ctx context.Context, env Env) (compensator, error) {
	var done rollback
	fail := func(err error) (compensator, error) {
		if rerr := done.run(ctx); rerr != nil {
			env.logger().Error("failed to roll back partial revert", zap.Stringer("id", c.ID), zap.Error(rerr))
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}

	target := c.Target()

	switch c.Kind {
	case KindDelete:
		if err := env.Vault.Restore(ctx, c.Backup, c.Source); err != nil {
			return fail(err)
		}
		done = append(done, removePath(env, c.Source))

	case KindMove:
		obj, err := c.openUnchanged(env, target)
		if err != nil {
			return fail(err)
		}
		if err := object.NotExist(env.Fs, c.Source); err != nil {
			return fail(err)
		}
		if err := obj.MoveTo(filepath.Dir(c.Source)); err != nil {
			return fail(err)
		}
		done = append(done, movePath(env, c.Source, c.Destination))

	case KindCopy:
		obj, err := object.OpenExisting(env.Fs, target)
		if err != nil {
			return fail(err)
		}
		digest, err := obj.Digest()
		if err != nil {
			return fail(err)
		}
		if obj.Kind() != c.ObjectKind || digest != c.Digest {
			return fail(&DivergedCopyError{ID: c.ID, Path: target, Expected: c.Digest, Got: digest})
		}
		// 删除前先存一份，补偿时用来还原副本
		res, err := env.Vault.Capture(ctx, target)
		if err != nil {
			return fail(err)
		}
		if err := obj.Delete(); err != nil {
			return fail(err)
		}
		done = append(done, restorePath(env, res.ID, target))

	default:
		return nil, fmt.Errorf("unknown command kind %q", c.Kind)
	}

	if c.Displaced != "" {
		if err := env.Vault.Restore(ctx, c.Displaced, target); err != nil {
			return fail(err)
		}
		done = append(done, removePath(env, target))
	}

	env.logger().Info("command reverted",
		zap.Stringer("id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("source", c.Source),
	)
	return done.run, nil
}

// openUnchanged 打开 path 并确认它仍是执行时的对象
func (c *Command) openUnchanged(env Env, path string) (*object.Object, error) {
	obj, err := object.OpenExisting(env.Fs, path)
	if object.IsNotExist(err) {
		return nil, &DriftError{ID: c.ID, Path: path, Missing: true}
	}
	if err != nil {
		return nil, err
	}
	digest, err := obj.Digest()
	if err != nil {
		return nil, err
	}
	if obj.Kind() != c.ObjectKind || digest != c.Digest {
		return nil, &DriftError{
			ID:             c.ID,
			Path:           path,
			ExpectedKind:   c.ObjectKind,
			GotKind:        obj.Kind(),
			ExpectedDigest: c.Digest,
			GotDigest:      digest,
		}
	}
	return obj, nil
}

func removePath(env Env, path string) compensator {
	return func(ctx context.Context) error {
		obj, err := object.OpenExisting(env.Fs, path)
		if err != nil {
			return err
		}
		return obj.Delete()
	}
}

func movePath(env Env, path, dir string) compensator {
	return func(ctx context.Context) error {
		obj, err := object.OpenExisting(env.Fs, path)
		if err != nil {
			return err
		}
		return obj.MoveTo(dir)
	}
}

func restorePath(env Env, id types.Hash, path string) compensator {
	return func(ctx context.Context) error {
		return env.Vault.Restore(ctx, id, path)
	}
}
