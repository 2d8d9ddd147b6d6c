package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"fsundo/pkg/history"
	"fsundo/pkg/object"
	"fsundo/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRepo 构建隔离的测试环境 (每个测试一个内存数据库)
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&CommandModel{}, &RevertModel{}))
	t.Cleanup(func() { _ = metaDB.Close() })

	return NewRepository(metaDB)
}

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// mustNewCommand 构造一条 "已执行" 的命令，不触碰文件系统
func mustNewCommand(t *testing.T, kind history.Kind, src, dest string) *history.Command {
	t.Helper()
	id, err := history.NewCommandID()
	require.NoError(t, err)

	cmd := &history.Command{
		ID:          id,
		Kind:        kind,
		ObjectKind:  object.KindFile,
		Source:      src,
		Destination: dest,
		Digest:      types.Digest(mockHash(src)),
		Mode:        0o644,
		Size:        42,
		Executed:    true,
		CreatedAt:   id.Time(),
	}
	if kind != history.KindCopy {
		cmd.Backup = mockHash("backup:" + src)
	}
	return cmd
}

// mustAppend 强制写入，失败则终止
func mustAppend(t *testing.T, repo *Repository, cmds ...*history.Command) {
	t.Helper()
	for _, cmd := range cmds {
		require.NoError(t, repo.Append(context.Background(), cmd))
	}
}

func revertRecord(target history.CommandID, cascade bool, ids ...history.CommandID) history.RevertRecord {
	return history.RevertRecord{
		Target:   target,
		Cascade:  cascade,
		Reverted: ids,
		At:       time.Now().UTC().Truncate(time.Second),
	}
}
