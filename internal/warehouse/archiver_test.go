package warehouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu          sync.Mutex
	clicks      [][]*models.ClickEvent
	conversions [][]*models.ConversionEvent
	fail        bool
}

func (w *fakeWriter) WriteClicks(ctx context.Context, clicks []*models.ClickEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("warehouse unavailable")
	}
	w.clicks = append(w.clicks, clicks)
	return nil
}

func (w *fakeWriter) WriteConversions(ctx context.Context, conversions []*models.ConversionEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("warehouse unavailable")
	}
	w.conversions = append(w.conversions, conversions)
	return nil
}

func (w *fakeWriter) clickBatches() [][]*models.ClickEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clicks
}

func TestArchiverFlushesOnBatchSize(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, 3, time.Hour, zap.NewNop())
	a.Start()

	for i := 0; i < 3; i++ {
		require.True(t, a.ArchiveClick(&models.ClickEvent{ID: "c"}))
	}

	require.Eventually(t, func() bool {
		return len(w.clickBatches()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, w.clickBatches()[0], 3)

	a.Stop()
}

func TestArchiverFlushesOnTicker(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, 100, 20*time.Millisecond, zap.NewNop())
	a.Start()

	require.True(t, a.ArchiveClick(&models.ClickEvent{ID: "c1"}))

	require.Eventually(t, func() bool {
		return len(w.clickBatches()) == 1
	}, time.Second, 5*time.Millisecond)

	a.Stop()
}

func TestArchiverFlushesOnStop(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, 100, time.Hour, zap.NewNop())
	a.Start()

	require.True(t, a.ArchiveClick(&models.ClickEvent{ID: "c1"}))
	require.True(t, a.ArchiveConversion(&models.ConversionEvent{ID: "cv1"}))
	a.Stop()

	require.Len(t, w.clickBatches(), 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.conversions, 1)
}

func TestArchiverDropsOnWriteFailure(t *testing.T) {
	w := &fakeWriter{fail: true}
	a := NewArchiver(w, 1, time.Hour, zap.NewNop())
	a.Start()

	require.True(t, a.ArchiveClick(&models.ClickEvent{ID: "c1"}))
	a.Stop()

	// The batch is dropped, not retried.
	assert.Empty(t, w.clickBatches())
}
