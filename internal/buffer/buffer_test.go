package buffer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/probe/internal/models"
)

func batch(service string, gcCycles uint64) models.MetricBatch {
	return models.MetricBatch{
		ServiceName: service,
		AgentToken:  "tok",
		Metrics: []models.MetricSnapshot{{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			GC:        &models.GCWindow{NumCycles: gcCycles, TotalTime: time.Millisecond},
		}},
	}
}

func TestBuffer_StoreAndRetrieveInOrder(t *testing.T) {
	b, err := New(t.TempDir(), 50, nil)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, b.Store(batch("svc", i)))
	}
	assert.Equal(t, 3, b.Count())

	got, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, bt := range got {
		assert.Equal(t, uint64(i+1), bt.Metrics[0].GC.NumCycles)
		assert.Equal(t, "svc", bt.ServiceName)
	}
	assert.Zero(t, b.Count(), "retrieved files are removed")
}

func TestBuffer_CorruptedFileRemoved(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, 50, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000T000000.000-000000.json"), []byte("{not json"), 0640))
	require.NoError(t, b.Store(batch("svc", 1)))

	got, err := b.RetrieveAll()
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Zero(t, b.Count())
}

func TestBuffer_DropsOldestWhenFull(t *testing.T) {
	b, err := New(t.TempDir(), 0, nil)
	require.NoError(t, err)

	require.NoError(t, b.Store(batch("svc", 1)))
	require.NoError(t, b.Store(batch("svc", 2)))

	got, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Metrics[0].GC.NumCycles)
}

func TestBuffer_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, 50, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0640))
	assert.Zero(t, b.Count())
}
