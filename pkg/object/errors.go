package object

import (
	"errors"
	"fmt"
)

// Reason 描述校验失败的具体原因
type Reason int

const (
	NotExists Reason = iota + 1
	WrongType
	NotUTF8
)

// ValidationError 由对象校验 (OpenExisting / Validate) 产生
// 调用方总是可以安全地中止操作：此时文件系统还没有被修改
type ValidationError struct {
	Path   string
	Reason Reason

	// 仅当 Reason == WrongType 时有效
	Expected Kind
	Got      Kind
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case NotExists:
		return fmt.Sprintf("validation error: %s no longer exists", e.Path)
	case WrongType:
		return fmt.Sprintf("validation error: expected %s to be a %s, got %s", e.Path, e.Expected, e.Got)
	case NotUTF8:
		return fmt.Sprintf("validation error: path %q is not valid UTF-8", e.Path)
	default:
		return fmt.Sprintf("validation error: %s", e.Path)
	}
}

// IsNotExist 判断 err 是否为 "对象不存在"
func IsNotExist(err error) bool {
	var v *ValidationError
	return errors.As(err, &v) && v.Reason == NotExists
}

// 操作前置条件错误 (Operation errors)，都在修改文件系统之前抛出
var (
	ErrMoveDestNotDir     = errors.New("move destination is not a directory")
	ErrCannotRenameRoot   = errors.New("root directory can't be renamed")
	ErrForbiddenNameChars = errors.New("file names can't include '/' or '\\0'")
)

// NameTakenError 目标位置已经被占用
type NameTakenError struct {
	Path string
}

func (e *NameTakenError) Error() string {
	return fmt.Sprintf("a file object at %s already exists", e.Path)
}
