// Package metrics provides Prometheus metrics for fsu commands.
package metrics

import (
	"time"

	"fsundo/pkg/history"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics 持有私有 Registry，避免全局状态
// 实现 history.Observer
type Metrics struct {
	registry *prometheus.Registry

	commandsExecuted *prometheus.CounterVec
	commandsReverted *prometheus.CounterVec
	revertFailures   *prometheus.CounterVec
	backupBytes      prometheus.Counter
	revertDuration   prometheus.Histogram
}

var _ history.Observer = (*Metrics)(nil)

// New 创建并注册所有指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsu_commands_executed_total",
				Help: "Total number of executed commands",
			},
			[]string{"kind"},
		),
		commandsReverted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsu_commands_reverted_total",
				Help: "Total number of reverted commands",
			},
			[]string{"kind"},
		),
		revertFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsu_revert_failures_total",
				Help: "Total number of refused or failed reverts",
			},
			[]string{"reason"},
		),
		backupBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsu_backup_bytes_total",
				Help: "Total bytes captured into the backup store",
			},
		),
		revertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fsu_revert_duration_seconds",
				Help:    "Time to plan, apply and commit a revert",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.commandsExecuted,
		m.commandsReverted,
		m.revertFailures,
		m.backupBytes,
		m.revertDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// CommandExecuted 命令执行成功
func (m *Metrics) CommandExecuted(cmd *history.Command) {
	m.commandsExecuted.WithLabelValues(string(cmd.Kind)).Inc()
	if cmd.Backup != "" && cmd.Size > 0 {
		m.backupBytes.Add(float64(cmd.Size))
	}
}

// CommandReverted 命令撤销成功
func (m *Metrics) CommandReverted(cmd *history.Command) {
	m.commandsReverted.WithLabelValues(string(cmd.Kind)).Inc()
}

// RevertFailed 撤销被拒绝或失败
func (m *Metrics) RevertFailed(reason string) {
	m.revertFailures.WithLabelValues(reason).Inc()
}

// RevertDuration 一次成功撤销的耗时
func (m *Metrics) RevertDuration(d time.Duration) {
	m.revertDuration.Observe(d.Seconds())
}

// Registry 用于测试或自定义导出
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile 写成 node_exporter textfile collector 能读取的格式
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
