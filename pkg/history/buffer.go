package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"fsundo/pkg/object"

	"go.uber.org/zap"
)

// Observer 接收命令执行与撤销的事件 (metrics 在这里接入)
type Observer interface {
	CommandExecuted(cmd *Command)
	CommandReverted(cmd *Command)
	RevertFailed(reason string)
	RevertDuration(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CommandExecuted(*Command)     {}
func (nopObserver) CommandReverted(*Command)     {}
func (nopObserver) RevertFailed(string)          {}
func (nopObserver) RevertDuration(time.Duration) {}

// BufferOption 配置 Buffer
type BufferOption func(*Buffer)

// WithObserver 注册事件观察者
func WithObserver(o Observer) BufferOption {
	return func(b *Buffer) {
		if o != nil {
			b.observer = o
		}
	}
}

// Buffer 是按 id 升序排列的命令历史
// 内存中的切片只是 Log 的缓存：先写 Log，成功后才更新内存
//
// 不是并发安全的，同一时间只能有一个调用方修改它。
type Buffer struct {
	env      Env
	log      Log
	logger   *zap.Logger
	observer Observer

	commands []*Command
	index    map[CommandID]int
}

// NewBuffer 创建一个空的 Buffer
func NewBuffer(env Env, log Log, opts ...BufferOption) *Buffer {
	b := &Buffer{
		env:      env,
		log:      log,
		logger:   env.logger(),
		observer: nopObserver{},
		index:    make(map[CommandID]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load 从 Log 重建 Buffer
func Load(ctx context.Context, env Env, log Log, opts ...BufferOption) (*Buffer, error) {
	b := NewBuffer(env, log, opts...)

	cmds, err := log.Iterate(ctx, CommandID{})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	for _, cmd := range cmds {
		if n := len(b.commands); n > 0 && !b.commands[n-1].ID.Less(cmd.ID) {
			return nil, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, cmd.ID, b.commands[n-1].ID)
		}
		b.index[cmd.ID] = len(b.commands)
		b.commands = append(b.commands, cmd)
	}

	b.logger.Debug("history loaded", zap.Int("commands", len(b.commands)))
	return b, nil
}

// Execute 执行命令并追加到历史
// 如果写日志失败，命令会被撤销，让磁盘与日志保持一致
func (b *Buffer) Execute(ctx context.Context, cmd *Command) (CommandID, error) {
	// id 顺序在动手之前就能检查
	if n := len(b.commands); n > 0 && !b.commands[n-1].ID.Less(cmd.ID) {
		return CommandID{}, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, cmd.ID.Short(), b.commands[n-1].ID.Short())
	}
	if err := cmd.Execute(ctx, b.env); err != nil {
		return CommandID{}, err
	}

	id, err := b.Push(ctx, cmd)
	if err != nil {
		if rerr := cmd.Revert(ctx, b.env); rerr != nil {
			b.logger.Error("failed to undo unrecorded command",
				zap.Stringer("id", cmd.ID), zap.Error(rerr))
			return CommandID{}, errors.Join(err, rerr)
		}
		return CommandID{}, err
	}

	b.observer.CommandExecuted(cmd)
	return id, nil
}

// Push 追加一条已经执行过的命令，不会重排
func (b *Buffer) Push(ctx context.Context, cmd *Command) (CommandID, error) {
	if !cmd.Executed {
		return CommandID{}, ErrNotExecuted
	}
	if n := len(b.commands); n > 0 && !b.commands[n-1].ID.Less(cmd.ID) {
		return CommandID{}, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, cmd.ID.Short(), b.commands[n-1].ID.Short())
	}

	// 先持久化，再更新内存
	if err := b.log.Append(ctx, cmd); err != nil {
		return CommandID{}, fmt.Errorf("failed to record command %s: %w", cmd.ID.Short(), err)
	}
	b.index[cmd.ID] = len(b.commands)
	b.commands = append(b.commands, cmd)
	return cmd.ID, nil
}

// Get 按 id 查找命令
func (b *Buffer) Get(id CommandID) (*Command, error) {
	i, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return b.commands[i], nil
}

// Commands 返回按 id 升序排列的所有命令 (切片是副本)
func (b *Buffer) Commands() []*Command {
	return slices.Clone(b.commands)
}

func (b *Buffer) Len() int { return len(b.commands) }

// Resolve 把用户输入解析为完整 id
// 接受完整 id、唯一前缀，或者 Short() 给出的短 id (末尾部分)
func (b *Buffer) Resolve(input string) (CommandID, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return CommandID{}, fmt.Errorf("%w: empty id", ErrUnknownCommand)
	}

	var (
		found CommandID
		n     int
	)
	for _, cmd := range b.commands {
		s := cmd.ID.String()
		if strings.HasPrefix(s, input) ||
			strings.HasPrefix(strings.ReplaceAll(s, "-", ""), input) ||
			strings.HasSuffix(s, input) {
			found = cmd.ID
			n++
		}
	}
	switch n {
	case 0:
		return CommandID{}, fmt.Errorf("%w: %s", ErrUnknownCommand, input)
	case 1:
		return found, nil
	default:
		return CommandID{}, fmt.Errorf("%w: %s matches %d commands", ErrAmbiguousID, input, n)
	}
}

// Dependencies 返回 id 直接依赖的更早命令
func (b *Buffer) Dependencies(id CommandID) ([]CommandID, error) {
	i, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}

	earlier := b.commands[:i]
	var out []CommandID
	for j, dep := range Scan(b.commands[i], earlier) {
		if dep {
			out = append(out, earlier[j].ID)
		}
	}
	return out, nil
}

// DirectDependents 返回直接依赖 id 的更晚命令
func (b *Buffer) DirectDependents(id CommandID) ([]CommandID, error) {
	i, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return b.dependents(i, false), nil
}

func (b *Buffer) dependents(i int, liveOnly bool) []CommandID {
	target := b.commands[i]
	var out []CommandID
	for _, later := range b.commands[i+1:] {
		if liveOnly && later.Reverted {
			continue
		}
		if later.DependsOn(target) {
			out = append(out, later.ID)
		}
	}
	return out
}

// DependencyClosure 返回所有直接或间接依赖 id 的命令，升序，不含 id 自身
func (b *Buffer) DependencyClosure(id CommandID) ([]CommandID, error) {
	if _, ok := b.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return b.closure(id, false), nil
}

// Blocking 返回阻止单独撤销 id 的命令：尚未撤销的依赖闭包，升序
// 结果非空时 Revert (不带 WithCascade) 会返回 *ConflictError
func (b *Buffer) Blocking(id CommandID) ([]CommandID, error) {
	if _, ok := b.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return b.closure(id, true), nil
}

// closure 广度优先遍历依赖图
// liveOnly 时只经过尚未撤销的命令
func (b *Buffer) closure(id CommandID, liveOnly bool) []CommandID {
	seen := map[CommandID]bool{id: true}
	queue := []CommandID{id}
	var out []CommandID

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, dep := range b.dependents(b.index[cur], liveOnly) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}

	slices.SortFunc(out, CommandID.Compare)
	return out
}

// RevertOption 配置 Revert
type RevertOption func(*revertOptions)

type revertOptions struct {
	cascade bool
}

// WithCascade 同时撤销所有仍然有效的依赖命令 (从最新的开始)
func WithCascade() RevertOption {
	return func(o *revertOptions) { o.cascade = true }
}

// Revert 撤销命令 id
//
// 存在未撤销的依赖时，默认返回 *ConflictError；WithCascade 时按 id 降序
// 先撤销它们，最后撤销 id。整个过程是原子的：
//  1. plan: 在虚拟视图上模拟每一步，任何前置条件不满足都不会动磁盘
//  2. apply: 逐步执行，失败时按相反顺序补偿已完成的步骤
//  3. commit: 在一个事务里写入日志，失败时同样补偿
func (b *Buffer) Revert(ctx context.Context, id CommandID, opts ...RevertOption) error {
	var o revertOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	err := b.revert(ctx, id, o)
	if err != nil {
		b.observer.RevertFailed(failureReason(err))
		return err
	}
	b.observer.RevertDuration(time.Since(start))
	return nil
}

func (b *Buffer) revert(ctx context.Context, id CommandID, o revertOptions) error {
	target, err := b.Get(id)
	if err != nil {
		return err
	}
	if target.Reverted {
		return ErrAlreadyReverted
	}

	blocking := b.closure(id, true)
	if len(blocking) > 0 && !o.cascade {
		return &ConflictError{Target: id, Blocking: blocking}
	}

	// 撤销顺序：依赖按 id 降序，最后是目标
	order := make([]*Command, 0, len(blocking)+1)
	for i := len(blocking) - 1; i >= 0; i-- {
		order = append(order, b.commands[b.index[blocking[i]]])
	}
	order = append(order, target)

	// 1. plan
	ov := newOverlay(b.env.Fs)
	for _, cmd := range order {
		if err := cmd.check(ctx, b.env, ov); err != nil {
			return err
		}
	}

	// 2. apply
	var applied rollback
	for _, cmd := range order {
		undo, err := cmd.apply(ctx, b.env)
		if err != nil {
			return b.compensate(ctx, applied, err)
		}
		applied = append(applied, undo)
	}

	// 3. commit
	rec := RevertRecord{Target: id, Cascade: o.cascade, At: time.Now()}
	for _, cmd := range order {
		rec.Reverted = append(rec.Reverted, cmd.ID)
	}
	if err := b.log.MarkReverted(ctx, rec); err != nil {
		return b.compensate(ctx, applied, fmt.Errorf("failed to record revert: %w", err))
	}

	for _, cmd := range order {
		cmd.Reverted = true
		cmd.RevertedAt = rec.At
		b.observer.CommandReverted(cmd)
	}

	b.logger.Info("revert committed",
		zap.Stringer("target", id),
		zap.Int("commands", len(order)),
		zap.Bool("cascade", o.cascade),
	)
	return nil
}

func (b *Buffer) compensate(ctx context.Context, applied rollback, cause error) error {
	if err := applied.run(ctx); err != nil {
		b.logger.Error("failed to compensate revert, filesystem may be inconsistent", zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

// RevertLast 撤销最近一条尚未撤销的命令
func (b *Buffer) RevertLast(ctx context.Context) (CommandID, error) {
	for i := len(b.commands) - 1; i >= 0; i-- {
		cmd := b.commands[i]
		if cmd.Reverted {
			continue
		}
		if err := b.Revert(ctx, cmd.ID); err != nil {
			return CommandID{}, err
		}
		return cmd.ID, nil
	}
	return CommandID{}, ErrNothingToRevert
}

// failureReason 把错误归类为 metrics 的 reason 标签
func failureReason(err error) string {
	var (
		conflict *ConflictError
		drift    *DriftError
		diverged *DivergedCopyError
		taken    *object.NameTakenError
	)
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &drift):
		return "drift"
	case errors.As(err, &diverged):
		return "diverged_copy"
	case errors.As(err, &taken):
		return "name_taken"
	case errors.Is(err, ErrAlreadyReverted):
		return "already_reverted"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown"
	case errors.Is(err, ErrMissingBackup):
		return "missing_backup"
	default:
		return "error"
	}
}
