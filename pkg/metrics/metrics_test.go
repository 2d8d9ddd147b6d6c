package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsundo/pkg/history"
	"fsundo/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestObserver(t *testing.T) {
	m := New()

	del := &history.Command{Kind: history.KindDelete, Backup: types.SumBytes([]byte("x")), Size: 100}
	cp := &history.Command{Kind: history.KindCopy, Size: 50}

	m.CommandExecuted(del)
	m.CommandExecuted(cp)
	m.CommandReverted(del)
	m.RevertFailed("conflict")
	m.RevertFailed("conflict")
	m.RevertDuration(20 * time.Millisecond)

	assert.Equal(t, 1.0, counterValue(t, m.commandsExecuted.WithLabelValues("delete")))
	assert.Equal(t, 1.0, counterValue(t, m.commandsExecuted.WithLabelValues("copy")))
	assert.Equal(t, 1.0, counterValue(t, m.commandsReverted.WithLabelValues("delete")))
	assert.Equal(t, 2.0, counterValue(t, m.revertFailures.WithLabelValues("conflict")))
	assert.Equal(t, 100.0, counterValue(t, m.backupBytes), "copy 不产生备份")

	var h dto.Metric
	require.NoError(t, m.revertDuration.Write(&h))
	assert.Equal(t, uint64(1), h.GetHistogram().GetSampleCount())
}

func TestWriteToTextfile(t *testing.T) {
	m := New()
	m.CommandExecuted(&history.Command{Kind: history.KindMove})

	path := filepath.Join(t.TempDir(), "fsu.prom")
	require.NoError(t, m.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fsu_commands_executed_total{kind="move"} 1`)
}
