// Package guard 防止 fsu 修改不该碰的路径 (自己的状态目录、.git 等)
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ErrProtected 目标路径受保护，操作在修改任何东西之前被拒绝
var ErrProtected = errors.New("path is protected")

// ProtectFile 状态目录下的用户规则文件名 (gitignore 语法)
const ProtectFile = "protect"

// Matcher 判断一个绝对路径是否受保护
type Matcher struct {
	ignorer *gitignore.GitIgnore
	// 这些目录本身、其内部以及其祖先都不允许被修改
	roots []string
}

// NewMatcher 初始化保护规则
// home: fsu 状态目录 (存放 objects 与 history)，可以为空
// rules: 来自配置 protect.rules 的额外规则
func NewMatcher(home string, rules []string) (*Matcher, error) {
	// 1. 系统级默认规则，强制生效
	lines := []string{
		".fsu", // 状态目录，删掉它等于删掉所有备份
		".git",
	}
	lines = append(lines, rules...)

	// 2. 用户规则文件
	var (
		ignorer *gitignore.GitIgnore
		err     error
		roots   []string
	)
	if home != "" {
		home, err = filepath.Abs(home)
		if err != nil {
			return nil, err
		}
		roots = append(roots, home)

		protectPath := filepath.Join(home, ProtectFile)
		if _, errStat := os.Stat(protectPath); errStat == nil {
			ignorer, err = gitignore.CompileIgnoreFileAndLines(protectPath, lines...)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", protectPath, err)
			}
		}
	}
	if ignorer == nil {
		ignorer = gitignore.CompileIgnoreLines(lines...)
	}

	return &Matcher{ignorer: ignorer, roots: roots}, nil
}

// Matches 检查绝对路径是否受保护
func (m *Matcher) Matches(path string) bool {
	_, ok := m.match(path)
	return ok
}

// Check 受保护时返回包装了 ErrProtected 的错误
func (m *Matcher) Check(path string) error {
	if reason, ok := m.match(path); ok {
		return fmt.Errorf("%w: %s (%s)", ErrProtected, path, reason)
	}
	return nil
}

func (m *Matcher) match(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	path = filepath.Clean(path)

	for _, root := range m.roots {
		if path == root || within(root, path) || within(path, root) {
			return "contains fsu state", true
		}
	}

	if m.ignorer != nil {
		if ok, how := m.ignorer.MatchesPathHow(path); ok {
			return fmt.Sprintf("rule %q", how.Line), true
		}
	}
	return "", false
}

func within(dir, path string) bool {
	if dir == string(filepath.Separator) {
		return path != dir
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
