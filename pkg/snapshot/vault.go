// Package snapshot 把文件系统对象完整地存入 Store，并能原样还原
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"fsundo/pkg/object"
	"fsundo/pkg/storage"
	"fsundo/pkg/types"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrCorrupt 还原结果与记录的指纹不一致
var ErrCorrupt = errors.New("snapshot content does not match its digest")

const stagingPrefix = ".fsu-restore-"

// Vault 负责快照的捕获与还原
type Vault struct {
	store  storage.Store
	fs     afero.Fs
	logger *zap.Logger

	// workers 单个目录内同时写入 Store 的子项数量上限，默认 1 (顺序执行)
	workers int
}

func NewVault(store storage.Store, fsys afero.Fs, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{store: store, fs: fsys, logger: logger, workers: 1}
}

// SetCaptureWorkers 设置目录捕获的并发度，n < 1 视为 1
func (v *Vault) SetCaptureWorkers(n int) {
	v.workers = max(n, 1)
}

// Result 一次 Capture 的结果
type Result struct {
	ID     types.Hash
	Kind   object.Kind
	Digest types.Digest
	// Size 对象的逻辑大小 (目录为递归累加)
	Size int64
}

// Capture 把 path 处的对象存入 Store，返回快照 id
func (v *Vault) Capture(ctx context.Context, path string) (*Result, error) {
	obj, err := object.OpenExisting(v.fs, path)
	if err != nil {
		return nil, err
	}

	// 1. 指纹在存储之前计算，Restore 时用来校验
	digest, err := obj.Digest()
	if err != nil {
		return nil, err
	}
	mode, err := obj.Mode()
	if err != nil {
		return nil, err
	}

	// 2. 递归存储内容
	entry, err := v.captureEntry(ctx, obj.Path(), obj.Kind())
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", obj.Path(), err)
	}

	// 3. 存储根节点
	snap := &Snapshot{
		TypeVal: typeSnapshot,
		Kind:    obj.Kind(),
		Mode:    mode,
		Ref:     entry.Ref,
		Target:  entry.Target,
		Size:    entry.Size,
		Digest:  digest,
	}
	id, err := v.putObject(ctx, snap)
	if err != nil {
		return nil, err
	}

	v.logger.Debug("captured snapshot",
		zap.String("path", obj.Path()),
		zap.String("snapshot", id.Short()),
		zap.Stringer("kind", obj.Kind()),
		zap.Int64("size", entry.Size),
	)

	return &Result{ID: id, Kind: obj.Kind(), Digest: digest, Size: entry.Size}, nil
}

// captureEntry 存储一个条目的内容，返回不含 Name/Mode 的 Entry
func (v *Vault) captureEntry(ctx context.Context, path string, kind object.Kind) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	switch kind {
	case object.KindSymlink:
		target, err := object.Readlink(v.fs, path)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: kind, Target: target}, nil

	case object.KindFile:
		hash, size, err := v.putBlob(ctx, path)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: kind, Ref: NewLink(hash), Size: size}, nil

	default:
		return v.captureDir(ctx, path)
	}
}

func (v *Vault) captureDir(ctx context.Context, path string) (Entry, error) {
	infos, err := afero.ReadDir(v.fs, path)
	if err != nil {
		return Entry{}, err
	}

	// 1. 写入子项 (workers > 1 时并发)，结果按下标放回
	entries := make([]Entry, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, info := range infos {
		g.Go(func() error {
			childPath := filepath.Join(path, info.Name())
			kind, err := object.KindOf(info.Mode())
			if err != nil {
				return fmt.Errorf("%s: %w", childPath, err)
			}

			entry, err := v.captureEntry(gctx, childPath, kind)
			if err != nil {
				return err
			}
			entry.Name = info.Name()
			entry.Mode = object.ModeFromFileMode(info.Mode())
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Entry{}, err
	}

	// 2. 排序保证相同内容得到相同的 tree hash
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	tree := &Tree{TypeVal: typeTree, Entries: entries}
	var total int64
	for _, e := range entries {
		total += e.Size
	}

	hash, err := v.putObject(ctx, tree)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Kind: object.KindDir, Ref: NewLink(hash), Size: total}, nil
}

// putBlob 以文件内容的 SHA256 为键存储
// 先完整读一遍算 Hash，再流式上传
func (v *Vault) putBlob(ctx context.Context, path string) (types.Hash, int64, error) {
	_, digest, err := object.DigestPath(v.fs, path)
	if err != nil {
		return "", 0, err
	}
	hash := digest.ToHash()

	f, err := v.fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if err := v.store.Put(ctx, hash, f); err != nil {
		return "", 0, fmt.Errorf("failed to store blob %s: %w", hash.Short(), err)
	}
	return hash, info.Size(), nil
}

func (v *Vault) putObject(ctx context.Context, obj any) (types.Hash, error) {
	hash, data, err := encode(obj)
	if err != nil {
		return "", err
	}
	if err := v.store.Put(ctx, hash, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store %T %s: %w", obj, hash.Short(), err)
	}
	return hash, nil
}

// Has 检查快照是否存在
func (v *Vault) Has(ctx context.Context, id types.Hash) (bool, error) {
	return v.store.Has(ctx, id)
}

// Stat 读取快照根节点
func (v *Vault) Stat(ctx context.Context, id types.Hash) (*Snapshot, error) {
	var snap Snapshot
	if err := v.getObject(ctx, id, &snap); err != nil {
		return nil, err
	}
	if snap.TypeVal != typeSnapshot {
		return nil, fmt.Errorf("object %s is not a snapshot, got: %s", id.Short(), snap.TypeVal)
	}
	return &snap, nil
}

func (v *Vault) getObject(ctx context.Context, hash types.Hash, out any) error {
	reader, err := v.store.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", hash.Short(), err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return err
	}
	if err := decode(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", hash.Short(), err)
	}
	return nil
}

// Restore 把快照还原到 path
//
// 先在同目录下的隐藏临时目录里完整构建，校验指纹后再 Rename 到位：
// path 要么完整出现，要么根本不出现。path 已被占用时返回 *object.NameTakenError。
func (v *Vault) Restore(ctx context.Context, id types.Hash, path string) error {
	path, err := object.Abs(path)
	if err != nil {
		return err
	}
	if err := object.NotExist(v.fs, path); err != nil {
		return err
	}

	snap, err := v.Stat(ctx, id)
	if err != nil {
		return err
	}

	// 1. 在目标旁边建立临时目录 (同一文件系统，Rename 才是原子的)
	staging, err := afero.TempDir(v.fs, filepath.Dir(path), stagingPrefix)
	if err != nil {
		return fmt.Errorf("failed to prepare restore of %s: %w", path, err)
	}
	defer v.fs.RemoveAll(staging)

	// 2. 构建
	built := filepath.Join(staging, "object")
	root := Entry{Kind: snap.Kind, Mode: snap.Mode, Ref: snap.Ref, Target: snap.Target, Size: snap.Size}
	if err := v.materialize(ctx, root, built); err != nil {
		return fmt.Errorf("failed to restore %s: %w", path, err)
	}

	// 3. 校验
	_, digest, err := object.DigestPath(v.fs, built)
	if err != nil {
		return err
	}
	if digest != snap.Digest {
		return fmt.Errorf("%w: restoring %s (expected %s, got %s)", ErrCorrupt, path, snap.Digest.Short(), digest.Short())
	}

	// 4. 再次确认目标空闲，然后就位
	if err := object.NotExist(v.fs, path); err != nil {
		return err
	}
	if err := v.fs.Rename(built, path); err != nil {
		return fmt.Errorf("failed to move restored object into %s: %w", path, err)
	}

	v.logger.Debug("restored snapshot", zap.String("path", path), zap.String("snapshot", id.Short()))
	return nil
}

func (v *Vault) materialize(ctx context.Context, e Entry, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch e.Kind {
	case object.KindSymlink:
		return object.Symlink(v.fs, e.Target, path)

	case object.KindFile:
		if e.Ref == nil {
			return fmt.Errorf("file entry %s has no content link", path)
		}
		return v.writeBlob(ctx, e.Ref.Hash, path, e.Mode)

	case object.KindDir:
		if e.Ref == nil {
			return fmt.Errorf("directory entry %s has no tree link", path)
		}
		var tree Tree
		if err := v.getObject(ctx, e.Ref.Hash, &tree); err != nil {
			return err
		}
		if tree.TypeVal != typeTree {
			return fmt.Errorf("object %s is not a tree, got: %s", e.Ref.Hash.Short(), tree.TypeVal)
		}

		// 先用可写权限建目录，子项写完后再恢复原权限
		if err := v.fs.Mkdir(path, 0o700); err != nil {
			return err
		}
		for _, child := range tree.Entries {
			if child.Name == "" || child.Name != filepath.Base(child.Name) || child.Name == ".." || child.Name == "." {
				return fmt.Errorf("invalid entry name %q in tree %s", child.Name, e.Ref.Hash.Short())
			}
			if err := v.materialize(ctx, child, filepath.Join(path, child.Name)); err != nil {
				return err
			}
		}
		return v.fs.Chmod(path, e.Mode.FileMode())

	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

func (v *Vault) writeBlob(ctx context.Context, hash types.Hash, path string, mode object.Mode) error {
	reader, err := v.store.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to get blob %s: %w", hash.Short(), err)
	}
	defer reader.Close()

	f, err := v.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return v.fs.Chmod(path, mode.FileMode())
}
