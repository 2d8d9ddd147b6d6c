package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"fsundo/pkg/object"
	"fsundo/pkg/snapshot"
	"fsundo/pkg/storage/disk"
	"fsundo/pkg/types"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// memLog 内存中的 Log 实现，可以注入失败
type memLog struct {
	cmds    []Command
	reverts []RevertRecord

	failAppend error
	failMark   error
}

func (l *memLog) Append(ctx context.Context, cmd *Command) error {
	if l.failAppend != nil {
		return l.failAppend
	}
	l.cmds = append(l.cmds, *cmd)
	return nil
}

func (l *memLog) Iterate(ctx context.Context, from CommandID) ([]*Command, error) {
	var out []*Command
	for i := range l.cmds {
		if l.cmds[i].ID.Compare(from) >= 0 {
			c := l.cmds[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (l *memLog) MarkReverted(ctx context.Context, rec RevertRecord) error {
	if l.failMark != nil {
		return l.failMark
	}
	idx := make([]int, 0, len(rec.Reverted))
	for _, id := range rec.Reverted {
		i := slices.IndexFunc(l.cmds, func(c Command) bool { return c.ID == id })
		if i < 0 {
			return ErrUnknownCommand
		}
		if l.cmds[i].Reverted {
			return ErrAlreadyReverted
		}
		idx = append(idx, i)
	}
	for _, i := range idx {
		l.cmds[i].Reverted = true
		l.cmds[i].RevertedAt = rec.At
	}
	l.reverts = append(l.reverts, rec)
	return nil
}

// recorder 记录 Observer 事件
type recorder struct {
	executed []Kind
	reverted []Kind
	failures []string
}

func (r *recorder) CommandExecuted(cmd *Command) { r.executed = append(r.executed, cmd.Kind) }
func (r *recorder) CommandReverted(cmd *Command) { r.reverted = append(r.reverted, cmd.Kind) }
func (r *recorder) RevertFailed(reason string)   { r.failures = append(r.failures, reason) }
func (r *recorder) RevertDuration(time.Duration) {}

var errInjected = errors.New("injected failure")

type fixture struct {
	t         *testing.T
	fs        afero.Fs
	storeRoot string
	env       Env
	log       *memLog
	buf       *Buffer
	events    *recorder
}

// newFixture 内存文件系统 + 磁盘 Store
//
//	/data/a.txt  "alpha"
//	/data/b.txt  "beta"
//	/data/dir/c.txt "gamma"
//	/dest/
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	root := t.TempDir()
	store, err := disk.NewAdapter(root)
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		fs:        fsys,
		storeRoot: root,
		env:       Env{Fs: fsys, Vault: snapshot.NewVault(store, fsys, nil)},
		log:       &memLog{},
		events:    &recorder{},
	}
	f.buf = NewBuffer(f.env, f.log, WithObserver(f.events))

	f.write("/data/a.txt", "alpha")
	f.write("/data/b.txt", "beta")
	f.write("/data/dir/c.txt", "gamma")
	require.NoError(t, fsys.MkdirAll("/dest", 0o755))
	return f
}

func (f *fixture) write(path, content string) {
	f.t.Helper()
	require.NoError(f.t, f.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, afero.WriteFile(f.fs, path, []byte(content), 0o644))
}

func (f *fixture) read(path string) string {
	f.t.Helper()
	data, err := afero.ReadFile(f.fs, path)
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) exists(path string) bool {
	f.t.Helper()
	_, err := object.Lstat(f.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	require.NoError(f.t, err)
	return true
}

func (f *fixture) digest(path string) types.Digest {
	f.t.Helper()
	_, d, err := object.DigestPath(f.fs, path)
	require.NoError(f.t, err)
	return d
}

// state 返回整个文件系统的 路径 -> 内容 快照，用于断言 "没有任何修改"
func (f *fixture) state() map[string]string {
	f.t.Helper()
	out := make(map[string]string)
	require.NoError(f.t, afero.Walk(f.fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			out[path] = "<dir>"
			return nil
		}
		data, err := afero.ReadFile(f.fs, path)
		if err != nil {
			return err
		}
		out[path] = string(data)
		return nil
	}))
	return out
}

func (f *fixture) newCommand(kind Kind, path, dest string, opts ...Option) *Command {
	f.t.Helper()
	obj, err := object.OpenExisting(f.fs, path)
	require.NoError(f.t, err)
	cmd, err := NewCommand(kind, obj, dest, opts...)
	require.NoError(f.t, err)
	return cmd
}

// dropBlob 从 Store 中删除一个内容块，模拟备份损坏
func (f *fixture) dropBlob(content string) {
	f.t.Helper()
	h := string(types.SumBytes([]byte(content)))
	require.NoError(f.t, os.Remove(filepath.Join(f.storeRoot, h[:2], h[2:])))
}

// run 构造并通过 Buffer 执行一条命令
func (f *fixture) run(kind Kind, path, dest string, opts ...Option) CommandID {
	f.t.Helper()
	id, err := f.buf.Execute(context.Background(), f.newCommand(kind, path, dest, opts...))
	require.NoError(f.t, err)
	return id
}
