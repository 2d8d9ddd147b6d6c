// pkg/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"fsundo/pkg/history"
	"fsundo/pkg/object"
	"fsundo/pkg/types"
)

// Entry 日志文件中的一条命令
type Entry struct {
	ID          history.CommandID `json:"id"`
	Kind        history.Kind      `json:"kind"`
	ObjectKind  object.Kind       `json:"object_kind"`
	Source      string            `json:"source"`
	Destination string            `json:"destination,omitempty"`
	Digest      types.Digest      `json:"digest"`
	Mode        string            `json:"mode"` // "rwxr-xr-x"
	Size        int64             `json:"size"`
	Overwrite   bool              `json:"overwrite,omitempty"`
	Backup      types.Hash        `json:"backup,omitempty"`
	Displaced   types.Hash        `json:"displaced,omitempty"`
	Reverted    bool              `json:"reverted"`
	CreatedAt   time.Time         `json:"created_at"`
	RevertedAt  *time.Time        `json:"reverted_at,omitempty"`
}

// Revert 一次撤销的审计记录
type Revert struct {
	Target   history.CommandID   `json:"target"`
	Cascade  bool                `json:"cascade"`
	Reverted []history.CommandID `json:"reverted"`
	At       time.Time           `json:"at"`
}

// Journal 基于单个 JSON 文件的 history.Log，不依赖 cgo
// 每次修改都会整体重写文件 (临时文件 + Rename)
type Journal struct {
	path    string
	Entries []Entry  `json:"entries"`
	Reverts []Revert `json:"reverts"`
	mu      sync.RWMutex
}

var _ history.Log = (*Journal)(nil)

// Open 加载或创建一个新的 Journal
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	// 尝试加载现有文件
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
		if err := json.Unmarshal(data, j); err != nil {
			return nil, fmt.Errorf("corrupted journal file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return j, nil
}

// Append 追加一条命令并落盘
func (j *Journal) Append(ctx context.Context, cmd *history.Command) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n := len(j.Entries); n > 0 && !j.Entries[n-1].ID.Less(cmd.ID) {
		return fmt.Errorf("%w: %s after %s", history.ErrOutOfOrder, cmd.ID, j.Entries[n-1].ID)
	}

	j.Entries = append(j.Entries, toEntry(cmd))
	if err := j.save(); err != nil {
		j.Entries = j.Entries[:len(j.Entries)-1]
		return err
	}
	return nil
}

// Iterate 按 id 升序返回 id >= from 的命令
func (j *Journal) Iterate(ctx context.Context, from history.CommandID) ([]*history.Command, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*history.Command
	for _, e := range j.Entries {
		if e.ID.Less(from) {
			continue
		}
		cmd, err := fromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// MarkReverted 全部成功或者全部不变
func (j *Journal) MarkReverted(ctx context.Context, rec history.RevertRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// 1. 先校验
	idx := make([]int, 0, len(rec.Reverted))
	for _, id := range rec.Reverted {
		i := slices.IndexFunc(j.Entries, func(e Entry) bool { return e.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", history.ErrUnknownCommand, id)
		}
		if j.Entries[i].Reverted {
			return fmt.Errorf("%w: %s", history.ErrAlreadyReverted, id)
		}
		idx = append(idx, i)
	}

	// 2. 在副本上修改，落盘成功后才替换
	prevEntries, prevReverts := j.Entries, j.Reverts
	j.Entries = slices.Clone(j.Entries)
	at := rec.At
	for _, i := range idx {
		j.Entries[i].Reverted = true
		j.Entries[i].RevertedAt = &at
	}
	j.Reverts = append(slices.Clone(j.Reverts), Revert{
		Target:   rec.Target,
		Cascade:  rec.Cascade,
		Reverted: slices.Clone(rec.Reverted),
		At:       rec.At,
	})

	if err := j.save(); err != nil {
		j.Entries, j.Reverts = prevEntries, prevReverts
		return err
	}
	return nil
}

// ListReverts 最近的撤销记录，最新的在前
func (j *Journal) ListReverts(ctx context.Context, limit int) ([]history.RevertRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []history.RevertRecord
	for i := len(j.Reverts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		r := j.Reverts[i]
		out = append(out, history.RevertRecord{
			Target:   r.Target,
			Cascade:  r.Cascade,
			Reverted: slices.Clone(r.Reverted),
			At:       r.At,
		})
	}
	return out, nil
}

// save 调用方必须持有写锁
func (j *Journal) save() error {
	// 格式化输出 (Indented)，方便直接查看
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "journal-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp journal: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return nil
}

func toEntry(cmd *history.Command) Entry {
	e := Entry{
		ID:          cmd.ID,
		Kind:        cmd.Kind,
		ObjectKind:  cmd.ObjectKind,
		Source:      cmd.Source,
		Destination: cmd.Destination,
		Digest:      cmd.Digest,
		Mode:        cmd.Mode.String(),
		Size:        cmd.Size,
		Overwrite:   cmd.Overwrite,
		Backup:      cmd.Backup,
		Displaced:   cmd.Displaced,
		Reverted:    cmd.Reverted,
		CreatedAt:   cmd.CreatedAt,
	}
	if cmd.Reverted {
		at := cmd.RevertedAt
		e.RevertedAt = &at
	}
	return e
}

func fromEntry(e Entry) (*history.Command, error) {
	kind, err := history.ParseKind(string(e.Kind))
	if err != nil {
		return nil, fmt.Errorf("corrupt journal entry %s: %w", e.ID, err)
	}
	mode, err := object.ParseMode(e.Mode)
	if err != nil {
		return nil, fmt.Errorf("corrupt journal entry %s: %w", e.ID, err)
	}

	cmd := &history.Command{
		ID:          e.ID,
		Kind:        kind,
		ObjectKind:  e.ObjectKind,
		Source:      e.Source,
		Destination: e.Destination,
		Digest:      e.Digest,
		Mode:        mode,
		Size:        e.Size,
		Overwrite:   e.Overwrite,
		Backup:      e.Backup,
		Displaced:   e.Displaced,
		Executed:    true,
		Reverted:    e.Reverted,
		CreatedAt:   e.CreatedAt,
	}
	if e.RevertedAt != nil {
		cmd.RevertedAt = *e.RevertedAt
	}
	return cmd, nil
}
