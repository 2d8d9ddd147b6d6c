package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsundo/pkg/history"
	"fsundo/pkg/object"
	"fsundo/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNewCommand(t *testing.T, kind history.Kind, src, dest string) *history.Command {
	t.Helper()
	id, err := history.NewCommandID()
	require.NoError(t, err)
	return &history.Command{
		ID:          id,
		Kind:        kind,
		ObjectKind:  object.KindDir,
		Source:      src,
		Destination: dest,
		Digest:      types.Digest(types.SumBytes([]byte(src))),
		Mode:        0o750,
		Size:        7,
		Backup:      types.SumBytes([]byte("backup:" + src)),
		Executed:    true,
		CreatedAt:   id.Time(),
	}
}

func mustOpen(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path)
	require.NoError(t, err)
	return j
}

func TestJournal_Persistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")

	// 1. 写入
	j1 := mustOpen(t, path)
	c1 := mustNewCommand(t, history.KindMove, "/data/dir", "/dest")
	c2 := mustNewCommand(t, history.KindDelete, "/dest/dir", "")
	require.NoError(t, j1.Append(ctx, c1))
	require.NoError(t, j1.Append(ctx, c2))

	// 2. 重新加载 (模拟第二次运行程序)
	j2 := mustOpen(t, path)
	got, err := j2.Iterate(ctx, history.CommandID{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, c1.ID, got[0].ID)
	assert.Equal(t, history.KindMove, got[0].Kind)
	assert.Equal(t, object.KindDir, got[0].ObjectKind)
	assert.Equal(t, "/dest", got[0].Destination)
	assert.Equal(t, object.Mode(0o750), got[0].Mode)
	assert.Equal(t, c1.Digest, got[0].Digest)
	assert.Equal(t, c1.Backup, got[0].Backup)
	assert.True(t, got[0].Executed)
	assert.True(t, got[0].CreatedAt.Equal(c1.CreatedAt))

	// 3. 从中间开始
	got, err = j2.Iterate(ctx, c2.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c2.ID, got[0].ID)

	// 4. 没有残留的临时文件
	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestJournal_AppendOutOfOrder(t *testing.T) {
	ctx := context.Background()
	j := mustOpen(t, filepath.Join(t.TempDir(), "history.json"))

	first := mustNewCommand(t, history.KindDelete, "/a", "")
	second := mustNewCommand(t, history.KindDelete, "/b", "")
	require.NoError(t, j.Append(ctx, second))

	err := j.Append(ctx, first)
	assert.ErrorIs(t, err, history.ErrOutOfOrder)
	assert.Len(t, j.Entries, 1)
}

func TestJournal_MarkReverted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")
	j := mustOpen(t, path)

	c1 := mustNewCommand(t, history.KindDelete, "/a", "")
	c2 := mustNewCommand(t, history.KindDelete, "/b", "")
	require.NoError(t, j.Append(ctx, c1))
	require.NoError(t, j.Append(ctx, c2))

	at := time.Now().UTC()
	rec := history.RevertRecord{Target: c2.ID, Reverted: []history.CommandID{c2.ID}, At: at}
	require.NoError(t, j.MarkReverted(ctx, rec))

	// 1. 重复撤销 => 拒绝
	err := j.MarkReverted(ctx, rec)
	assert.ErrorIs(t, err, history.ErrAlreadyReverted)

	// 2. 部分已撤销 => 全部不变
	err = j.MarkReverted(ctx, history.RevertRecord{
		Target:   c1.ID,
		Cascade:  true,
		Reverted: []history.CommandID{c2.ID, c1.ID},
		At:       at,
	})
	assert.ErrorIs(t, err, history.ErrAlreadyReverted)

	// 3. 未知 id
	unknown := mustNewCommand(t, history.KindDelete, "/c", "")
	err = j.MarkReverted(ctx, history.RevertRecord{Target: unknown.ID, Reverted: []history.CommandID{unknown.ID}, At: at})
	assert.ErrorIs(t, err, history.ErrUnknownCommand)

	// 4. 落盘后的状态
	reloaded := mustOpen(t, path)
	got, err := reloaded.Iterate(ctx, history.CommandID{})
	require.NoError(t, err)
	assert.False(t, got[0].Reverted)
	assert.True(t, got[1].Reverted)
	assert.True(t, got[1].RevertedAt.Equal(at))

	audits, err := reloaded.ListReverts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, c2.ID, audits[0].Target)
}

func TestJournal_SaveFailureKeepsState(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ctx := context.Background()
	dir := t.TempDir()
	j := mustOpen(t, filepath.Join(dir, "history.json"))

	c1 := mustNewCommand(t, history.KindDelete, "/a", "")
	require.NoError(t, j.Append(ctx, c1))

	// 目录只读 => 无法创建临时文件
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := j.MarkReverted(ctx, history.RevertRecord{Target: c1.ID, Reverted: []history.CommandID{c1.ID}, At: time.Now()})
	require.Error(t, err)
	assert.False(t, j.Entries[0].Reverted)
	assert.Empty(t, j.Reverts)

	c2 := mustNewCommand(t, history.KindDelete, "/b", "")
	require.Error(t, j.Append(ctx, c2))
	assert.Len(t, j.Entries, 1)
}

func TestJournal_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "corrupted journal file")
}

// 与 history.Buffer 一起工作
func TestJournal_WithBuffer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")
	j := mustOpen(t, path)

	c1 := mustNewCommand(t, history.KindMove, "/data/a.txt", "/dest")
	c2 := mustNewCommand(t, history.KindDelete, "/dest/a.txt", "")
	require.NoError(t, j.Append(ctx, c1))
	require.NoError(t, j.Append(ctx, c2))

	buf, err := history.Load(ctx, history.Env{}, mustOpen(t, path))
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Len())

	deps, err := buf.DirectDependents(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, []history.CommandID{c2.ID}, deps)
}
