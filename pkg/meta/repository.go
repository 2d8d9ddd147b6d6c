package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fsundo/pkg/history"
	"fsundo/pkg/object"
	"fsundo/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrDuplicateCommand = errors.New("command already recorded")

// Repository 用 SQL 数据库实现 history.Log
type Repository struct {
	db *DB
}

var _ history.Log = (*Repository)(nil)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 命令日志 (history.Log)
// -----------------------------------------------------------------------------

// Append 追加一条已执行的命令
func (r *Repository) Append(ctx context.Context, cmd *history.Command) error {
	model := toModel(cmd)
	if err := r.db.GetConn().WithContext(ctx).Create(&model).Error; err != nil {
		// 兼容性，处理不同数据库 (PG 与 SQLite) 的唯一约束错误
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.ID)
		}
		return fmt.Errorf("failed to append command: %w", err)
	}
	return nil
}

// Iterate 按 id 升序返回 id >= from 的命令，from 为零值时返回全部
func (r *Repository) Iterate(ctx context.Context, from history.CommandID) ([]*history.Command, error) {
	query := r.db.GetConn().WithContext(ctx).Order("id ASC")
	if !from.IsZero() {
		query = query.Where("id >= ?", from.String())
	}

	var models []CommandModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	cmds := make([]*history.Command, 0, len(models))
	for i := range models {
		cmd, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// MarkReverted 在一个事务里标记所有命令已撤销并写入审计记录
// 任何一条不存在或已经撤销，整个事务回滚
func (r *Repository) MarkReverted(ctx context.Context, rec history.RevertRecord) error {
	ids := make([]string, 0, len(rec.Reverted))
	for _, id := range rec.Reverted {
		ids = append(ids, id.String())
	}
	closure, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal revert closure: %w", err)
	}

	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SQL: UPDATE commands SET reverted = true, reverted_at = ? WHERE id IN ? AND reverted = false
		result := tx.Model(&CommandModel{}).
			Where("id IN ? AND reverted = ?", ids, false).
			Updates(map[string]any{
				"reverted":    true,
				"reverted_at": rec.At,
			})
		if result.Error != nil {
			return result.Error
		}

		// 影响行数不足：有的 id 不存在，或者已经被撤销过
		if result.RowsAffected != int64(len(ids)) {
			var known int64
			if err := tx.Model(&CommandModel{}).Where("id IN ?", ids).Count(&known).Error; err != nil {
				return err
			}
			if known != int64(len(ids)) {
				return history.ErrUnknownCommand
			}
			return history.ErrAlreadyReverted
		}

		audit := RevertModel{
			TargetID: rec.Target.String(),
			Cascade:  rec.Cascade,
			Reverted: datatypes.JSON(closure),
			At:       rec.At,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("failed to record revert: %w", err)
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// 2. 审计 (Audit)
// -----------------------------------------------------------------------------

// ListReverts 最近的撤销记录，最新的在前
func (r *Repository) ListReverts(ctx context.Context, limit int) ([]history.RevertRecord, error) {
	var models []RevertModel
	query := r.db.GetConn().WithContext(ctx).Order("at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]history.RevertRecord, 0, len(models))
	for _, m := range models {
		target, err := history.ParseCommandID(m.TargetID)
		if err != nil {
			return nil, err
		}
		var ids []history.CommandID
		if err := json.Unmarshal(m.Reverted, &ids); err != nil {
			return nil, fmt.Errorf("failed to decode revert %d: %w", m.ID, err)
		}
		out = append(out, history.RevertRecord{
			Target:   target,
			Cascade:  m.Cascade,
			Reverted: ids,
			At:       m.At,
		})
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 3. 转换
// -----------------------------------------------------------------------------

func toModel(cmd *history.Command) CommandModel {
	m := CommandModel{
		ID:          cmd.ID.String(),
		Kind:        string(cmd.Kind),
		ObjectKind:  string(cmd.ObjectKind),
		Source:      cmd.Source,
		Destination: cmd.Destination,
		Digest:      cmd.Digest.String(),
		Mode:        uint32(cmd.Mode),
		Size:        cmd.Size,
		Overwrite:   cmd.Overwrite,
		Backup:      cmd.Backup.String(),
		Displaced:   cmd.Displaced.String(),
		Reverted:    cmd.Reverted,
		CreatedAt:   cmd.CreatedAt,
	}
	if cmd.Reverted {
		at := cmd.RevertedAt
		m.RevertedAt = &at
	}
	return m
}

// fromModel 日志里只有执行过的命令
func fromModel(m *CommandModel) (*history.Command, error) {
	id, err := history.ParseCommandID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt command row %q: %w", m.ID, err)
	}
	kind, err := history.ParseKind(m.Kind)
	if err != nil {
		return nil, fmt.Errorf("corrupt command row %s: %w", m.ID, err)
	}

	cmd := &history.Command{
		ID:          id,
		Kind:        kind,
		ObjectKind:  object.Kind(m.ObjectKind),
		Source:      m.Source,
		Destination: m.Destination,
		Digest:      types.Digest(m.Digest),
		Mode:        object.Mode(m.Mode),
		Size:        m.Size,
		Overwrite:   m.Overwrite,
		Backup:      types.Hash(m.Backup),
		Displaced:   types.Hash(m.Displaced),
		Executed:    true,
		Reverted:    m.Reverted,
		CreatedAt:   m.CreatedAt,
	}
	if m.RevertedAt != nil {
		cmd.RevertedAt = *m.RevertedAt
	}
	return cmd, nil
}
