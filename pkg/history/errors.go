package history

import (
	"errors"
	"fmt"
	"strings"

	"fsundo/pkg/object"
	"fsundo/pkg/types"
)

var (
	ErrAlreadyExecuted = errors.New("command has already been executed")
	ErrAlreadyReverted = errors.New("command has already been reverted")
	ErrNotExecuted     = errors.New("command has not been executed")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrAmbiguousID     = errors.New("ambiguous command id prefix")
	ErrOutOfOrder      = errors.New("command id is not newer than the last recorded command")
	ErrNothingToRevert = errors.New("nothing to revert")
	ErrMissingBackup   = errors.New("backup is missing from the store")
)

// DriftError 对象在执行之后被外部修改，撤销不再安全
type DriftError struct {
	ID   CommandID
	Path string

	// Missing 为 true 时对象已经不存在，下面的字段无意义
	Missing bool

	ExpectedKind   object.Kind
	GotKind        object.Kind
	ExpectedDigest types.Digest
	GotDigest      types.Digest
}

func (e *DriftError) Error() string {
	switch {
	case e.Missing:
		return fmt.Sprintf("command %s: %s no longer exists", e.ID.Short(), e.Path)
	case e.ExpectedKind != e.GotKind:
		return fmt.Sprintf("command %s: expected %s to be a %s, got %s", e.ID.Short(), e.Path, e.ExpectedKind, e.GotKind)
	default:
		return fmt.Sprintf("command %s: %s was modified (digest %s, recorded %s)",
			e.ID.Short(), e.Path, e.GotDigest.Short(), e.ExpectedDigest.Short())
	}
}

// DivergedCopyError 副本在复制之后被修改，删除它会丢失这些修改
// 副本保持原样
type DivergedCopyError struct {
	ID       CommandID
	Path     string
	Expected types.Digest
	Got      types.Digest
}

func (e *DivergedCopyError) Error() string {
	return fmt.Sprintf("command %s: copy at %s has diverged from the original (digest %s, recorded %s)",
		e.ID.Short(), e.Path, e.Got.Short(), e.Expected.Short())
}

// ConflictError 目标命令还有未撤销的后续依赖
type ConflictError struct {
	Target   CommandID
	Blocking []CommandID
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.Blocking))
	for i, id := range e.Blocking {
		ids[i] = id.Short()
	}
	return fmt.Sprintf("command %s has dependents that must be reverted first: %s",
		e.Target.Short(), strings.Join(ids, ", "))
}
