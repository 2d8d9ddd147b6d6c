package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"fsundo/pkg/guard"
	"fsundo/pkg/history"
	"fsundo/pkg/object"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shortIDPattern = regexp.MustCompile(`\[([0-9a-f]{12})\]`)

type testEnv struct {
	t    *testing.T
	home string
	work string
}

// setupIntegrationEnv 真实文件系统 + 临时 HOME，每个测试一个独立的状态目录
func setupIntegrationEnv(t *testing.T, driver string) *testEnv {
	t.Helper()
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FSU_HISTORY_DRIVER", driver)
	t.Setenv("FSU_STORAGE_COMPRESSION", "zstd")
	t.Chdir(work)

	orig := confirm
	t.Cleanup(func() { confirm = orig })
	answer(false)

	return &testEnv{t: t, home: home, work: work}
}

// answer 固定确认提示的回答
func answer(ok bool) {
	confirm = func(string, string) (bool, error) { return ok, nil }
}

// run 执行一次 fsu 命令，返回 stdout
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	force, verbose, cascade, logAll, logLimit, logReverts = false, 0, false, false, 20, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

// mustRunID 执行并解析输出中的短 id
func (e *testEnv) mustRunID(args ...string) string {
	e.t.Helper()
	out := e.mustRun(args...)
	m := shortIDPattern.FindStringSubmatch(out)
	require.Len(e.t, m, 2, "no command id in output: %s", out)
	return m[1]
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.work, rel)
}

func (e *testEnv) write(rel, content string) {
	e.t.Helper()
	p := e.path(rel)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0o644))
}

func (e *testEnv) read(rel string) string {
	e.t.Helper()
	data, err := os.ReadFile(e.path(rel))
	require.NoError(e.t, err)
	return string(data)
}

func TestIntegration_DeleteUndo(t *testing.T) {
	for _, driver := range []string{"json", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			e := setupIntegrationEnv(t, driver)
			e.write("foo.txt", "foo content")

			e.mustRunID("delete", "foo.txt")
			assert.NoFileExists(t, e.path("foo.txt"))

			out := e.mustRun("undo")
			assert.Contains(t, out, "reverted delete")
			assert.Equal(t, "foo content", e.read("foo.txt"))

			_, err := e.run("undo")
			assert.ErrorIs(t, err, history.ErrNothingToRevert)
		})
	}
}

func TestIntegration_RevertWithDependents(t *testing.T) {
	e := setupIntegrationEnv(t, "sqlite")
	e.write("a.txt", "alpha")
	require.NoError(t, os.Mkdir(e.path("dir"), 0o755))

	id1 := e.mustRunID("move", "a.txt", "dir")
	e.mustRunID("delete", filepath.Join("dir", "a.txt"))

	// 1. 有依赖，拒绝一起撤销 => 冲突，不修改
	answer(false)
	_, err := e.run("revert", id1)
	var conflict *history.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Blocking, 1)
	assert.NoFileExists(t, e.path("a.txt"))

	// 2. deps 显示依赖关系
	out := e.mustRun("deps", id1)
	assert.Contains(t, out, "dependents:")
	assert.Contains(t, out, conflict.Blocking[0].Short())

	// 3. --cascade
	e.mustRun("revert", "--cascade", id1)
	assert.Equal(t, "alpha", e.read("a.txt"))
	assert.NoFileExists(t, e.path(filepath.Join("dir", "a.txt")))

	// 4. 已撤销
	_, err = e.run("revert", id1)
	assert.ErrorIs(t, err, history.ErrAlreadyReverted)
}

func TestIntegration_RevertConfirmCascade(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	e.write("a.txt", "alpha")
	require.NoError(t, os.Mkdir(e.path("dir"), 0o755))

	id1 := e.mustRunID("move", "a.txt", "dir")
	e.mustRunID("copy", filepath.Join("dir", "a.txt"), e.work)

	prom := filepath.Join(t.TempDir(), "fsu.prom")
	t.Setenv("FSU_METRICS_TEXTFILE", prom)

	answer(true)
	e.mustRun("revert", id1)
	assert.Equal(t, "alpha", e.read("a.txt"))
	assert.NoFileExists(t, e.path(filepath.Join("dir", "a.txt")))

	// 确认后成功的撤销不计入失败
	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fsu_commands_reverted_total{kind="move"} 1`)
	assert.NotContains(t, string(data), `reason="conflict"`)
}

func TestIntegration_DivergedCopy(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	e.write("a.txt", "alpha")
	require.NoError(t, os.Mkdir(e.path("dir"), 0o755))

	e.mustRunID("copy", "a.txt", "dir")
	e.write(filepath.Join("dir", "a.txt"), "edited")

	_, err := e.run("undo")
	var diverged *history.DivergedCopyError
	require.ErrorAs(t, err, &diverged)
	assert.Equal(t, "edited", e.read(filepath.Join("dir", "a.txt")))
}

func TestIntegration_Overwrite(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	e.write("a.txt", "new")
	e.write(filepath.Join("dir", "a.txt"), "old")

	// 1. 拒绝覆盖
	answer(false)
	_, err := e.run("copy", "a.txt", "dir")
	var taken *object.NameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "old", e.read(filepath.Join("dir", "a.txt")))

	// 2. --force 覆盖
	e.mustRunID("copy", "--force", "a.txt", "dir")
	assert.Equal(t, "new", e.read(filepath.Join("dir", "a.txt")))

	// 3. 撤销恢复原占用者
	e.mustRun("undo")
	assert.Equal(t, "old", e.read(filepath.Join("dir", "a.txt")))
}

func TestIntegration_DeleteDirConfirm(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	e.write(filepath.Join("tree", "x.txt"), "x")

	answer(false)
	_, err := e.run("delete", "tree")
	assert.ErrorIs(t, err, errAborted)
	assert.DirExists(t, e.path("tree"))

	answer(true)
	e.mustRunID("delete", "tree")
	assert.NoDirExists(t, e.path("tree"))

	e.mustRun("undo")
	assert.Equal(t, "x", e.read(filepath.Join("tree", "x.txt")))
}

func TestIntegration_Protected(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	e.mustRun("init")

	_, err := e.run("delete", "--force", filepath.Join(e.home, ".fsu", "config.yaml"))
	assert.ErrorIs(t, err, guard.ErrProtected)
	assert.FileExists(t, filepath.Join(e.home, ".fsu", "config.yaml"))

	// 状态目录的祖先也不能动
	_, err = e.run("delete", "--force", e.home)
	assert.ErrorIs(t, err, guard.ErrProtected)
}

func TestIntegration_Log(t *testing.T) {
	e := setupIntegrationEnv(t, "json")

	out := e.mustRun("log")
	assert.Contains(t, out, "No commands yet.")

	e.write("a.txt", "alpha")
	e.write("b.txt", "beta")
	id1 := e.mustRunID("delete", "a.txt")
	id2 := e.mustRunID("delete", "b.txt")
	e.mustRun("undo")

	out = e.mustRun("log")
	assert.Contains(t, out, id1)
	assert.NotContains(t, out, id2, "已撤销的命令默认隐藏")

	out = e.mustRun("log", "--all")
	assert.Contains(t, out, id2)
	assert.Contains(t, out, "reverted")
	assert.Contains(t, out, "rw-r--r--")
}

func TestIntegration_LogReverts(t *testing.T) {
	for _, driver := range []string{"json", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			e := setupIntegrationEnv(t, driver)

			out := e.mustRun("log", "--reverts")
			assert.Contains(t, out, "No reverts yet.")

			e.write("a.txt", "alpha")
			require.NoError(t, os.Mkdir(e.path("dir"), 0o755))
			id1 := e.mustRunID("move", "a.txt", "dir")
			id2 := e.mustRunID("delete", filepath.Join("dir", "a.txt"))
			e.mustRun("revert", "--cascade", id1)

			out = e.mustRun("log", "--reverts")
			assert.Contains(t, out, id1)
			assert.Contains(t, out, id2)
			assert.Contains(t, out, "true")
		})
	}
}

func TestIntegration_Init(t *testing.T) {
	e := setupIntegrationEnv(t, "json")

	out := e.mustRun("init")
	assert.Contains(t, out, "initialized fsu")
	assert.FileExists(t, filepath.Join(e.home, ".fsu", "config.yaml"))
	assert.DirExists(t, filepath.Join(e.home, ".fsu", "objects"))

	out = e.mustRun("init")
	assert.Contains(t, out, "already initialized")
}

func TestIntegration_MetricsTextfile(t *testing.T) {
	e := setupIntegrationEnv(t, "json")
	prom := filepath.Join(t.TempDir(), "fsu.prom")
	t.Setenv("FSU_METRICS_TEXTFILE", prom)

	e.write("a.txt", "alpha")
	e.mustRunID("delete", "a.txt")

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fsu_commands_executed_total{kind="delete"} 1`)

	// 失败的撤销同样被记录
	e.write("a.txt", "occupied")
	_, err = e.run("undo")
	require.Error(t, err)
	data, err = os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fsu_revert_failures_total{reason="name_taken"} 1`)
}
