// Package object 提供经过校验的文件系统对象句柄。
//
// 每次修改之前都会重新校验 (Validate)，这缩小了但没有消除
// "检查之后、使用之前" (TOCTOU) 的竞态窗口。
package object

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// Kind 文件系统对象的类型
type Kind string

const (
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symbolic link"
	default:
		return string(k)
	}
}

// KindOf 根据 FileMode 推断类型
// 设备、socket、管道等特殊文件不受支持
func KindOf(mode fs.FileMode) (Kind, error) {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink, nil
	case mode.IsDir():
		return KindDir, nil
	case mode.IsRegular():
		return KindFile, nil
	default:
		return "", fmt.Errorf("unsupported file type %s", mode.Type())
	}
}

// Object 是一个已校验的文件系统实体 (路径 + 类型)
type Object struct {
	fs afero.Fs
	// INVARIANT: 永远是绝对路径
	path string
	kind Kind
}

// OpenExisting 打开一个已存在的对象
func OpenExisting(fsys afero.Fs, path string) (*Object, error) {
	abs, err := Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := Lstat(fsys, abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ValidationError{Path: abs, Reason: NotExists}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	kind, err := KindOf(info.Mode())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	return &Object{fs: fsys, path: abs, kind: kind}, nil
}

// Path 返回对象当前的绝对路径
func (o *Object) Path() string { return o.path }

// Kind 返回最近一次校验时的类型
func (o *Object) Kind() Kind { return o.kind }

// Name 返回路径的最后一段 (根目录为空字符串)
func (o *Object) Name() string {
	if o.path == string(filepath.Separator) {
		return ""
	}
	return filepath.Base(o.path)
}

// Fs 返回对象所在的文件系统
func (o *Object) Fs() afero.Fs { return o.fs }

// Validate 重新检查对象是否存在、类型是否一致
func (o *Object) Validate() error {
	info, err := Lstat(o.fs, o.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ValidationError{Path: o.path, Reason: NotExists}
		}
		return fmt.Errorf("failed to stat %s: %w", o.path, err)
	}

	got, err := KindOf(info.Mode())
	if err != nil {
		return fmt.Errorf("%s: %w", o.path, err)
	}
	if got != o.kind {
		return &ValidationError{Path: o.path, Reason: WrongType, Expected: o.kind, Got: got}
	}
	return nil
}

// Mode 返回权限位
func (o *Object) Mode() (Mode, error) {
	info, err := Lstat(o.fs, o.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", o.path, err)
	}
	return ModeFromFileMode(info.Mode()), nil
}

// Size 返回对象大小，目录为递归累加
func (o *Object) Size() (int64, error) {
	if o.kind != KindDir {
		info, err := Lstat(o.fs, o.path)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	var total int64
	err := afero.Walk(o.fs, o.path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// MoveTo 把对象移动到目录 to 之下，保持原名
// to 中不能已经存在同名对象
func (o *Object) MoveTo(to string) error {
	if err := o.Validate(); err != nil {
		return err
	}

	dest, err := o.destinationIn(to)
	if err != nil {
		return err
	}

	if err := o.fs.Rename(o.path, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", o.path, dest, err)
	}
	o.path = dest
	return nil
}

// Rename 修改对象的名字 (而不是路径)
//
// 注意：对目录调用会使指向其内部的其它 Object 失效
func (o *Object) Rename(to string) error {
	if err := o.Validate(); err != nil {
		return err
	}

	if strings.ContainsAny(to, "/\x00") {
		return ErrForbiddenNameChars
	}
	if o.path == string(filepath.Separator) {
		return ErrCannotRenameRoot
	}

	dest := filepath.Join(filepath.Dir(o.path), to)
	if err := NotExist(o.fs, dest); err != nil {
		return err
	}

	if err := o.fs.Rename(o.path, dest); err != nil {
		return fmt.Errorf("failed to rename %s: %w", o.path, err)
	}
	o.path = dest
	return nil
}

// Delete 删除对象，目录会被递归删除
func (o *Object) Delete() error {
	if err := o.Validate(); err != nil {
		return err
	}

	var err error
	switch o.kind {
	case KindDir:
		err = o.fs.RemoveAll(o.path)
	default:
		// 校验之后，这里只可能是权限类错误
		err = o.fs.Remove(o.path)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", o.path, err)
	}
	return nil
}

// destinationIn 计算并检查 "to/name" 这个目标位置
func (o *Object) destinationIn(to string) (string, error) {
	to, err := Abs(to)
	if err != nil {
		return "", err
	}

	ok, err := afero.IsDir(o.fs, to)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", to, err)
	}
	if !ok {
		return "", ErrMoveDestNotDir
	}

	dest := filepath.Join(to, o.Name())
	if dest == o.path {
		return "", &NameTakenError{Path: dest}
	}
	// 不能把目录移动到自己的子目录里
	if o.kind == KindDir && IsAncestor(o.path, dest) {
		return "", fmt.Errorf("cannot place %s inside itself", o.path)
	}
	if err := NotExist(o.fs, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// -----------------------------------------------------------------------------
// 路径辅助函数
// -----------------------------------------------------------------------------

// Abs 把相对路径转换为绝对路径，并拒绝非 UTF-8 路径
func Abs(path string) (string, error) {
	if !utf8.ValidString(path) {
		return "", &ValidationError{Path: path, Reason: NotUTF8}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}

// IsAncestor 判断 dir 是否为 path 的严格祖先目录 (两者都应是干净的绝对路径)
func IsAncestor(dir, path string) bool {
	if dir == path {
		return false
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// NotExist 检查 dest 处没有任何对象 (悬空的符号链接也算存在)
func NotExist(fsys afero.Fs, dest string) error {
	_, err := Lstat(fsys, dest)
	if err == nil {
		return &NameTakenError{Path: dest}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to stat %s: %w", dest, err)
}

// Lstat 尽可能不跟随符号链接
func Lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}

// Readlink 读取符号链接目标
func Readlink(fsys afero.Fs, path string) (string, error) {
	r, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("filesystem %s does not support symlinks", fsys.Name())
	}
	return r.ReadlinkIfPossible(path)
}

// Symlink 创建符号链接
func Symlink(fsys afero.Fs, target, path string) error {
	l, ok := fsys.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem %s does not support symlinks", fsys.Name())
	}
	return l.SymlinkIfPossible(target, path)
}
