package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRecorder(t *testing.T, workers int) (*ClickRecorder, *storage.InMemoryEventStore, *storage.InMemoryAnalyticsRepo, *Queue) {
	t.Helper()
	events := storage.NewInMemoryEventStore()
	analytics := storage.NewInMemoryAnalyticsRepo()
	q := NewQueue(QueueOptions{
		Size:       4096,
		Workers:    workers,
		MaxRetries: 1,
		Backoff:    time.Millisecond,
		Logger:     zap.NewNop(),
	})
	rec := NewClickRecorder(q, events, analytics, nil, nil, zap.NewNop())
	return rec, events, analytics, q
}

func click(linkID, productID string) *models.ClickEvent {
	return &models.ClickEvent{
		ID:        uuid.New().String(),
		LinkID:    linkID,
		ProductID: productID,
		SessionID: uuid.New().String(),
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
		Timestamp: time.Now().UTC(),
	}
}

func TestRecorderPersistsClickAndCounters(t *testing.T) {
	rec, events, analytics, q := newTestRecorder(t, 1)
	q.Start(context.Background())

	c := click("l1", "p1")
	require.True(t, rec.SubmitClick(c))
	q.Stop()

	saved, err := events.GetClick(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "l1", saved.LinkID)

	stats, err := analytics.GetLinkAnalytics(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalClicks)

	product, err := analytics.GetProductAnalytics(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), product.Clicks)
}

// K concurrent clicks on one link must yield exactly K in the counters;
// the increment path may not lose updates.
func TestRecorderConcurrentClicksCountExactly(t *testing.T) {
	rec, _, analytics, q := newTestRecorder(t, 8)
	q.Start(context.Background())

	const k = 500
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, rec.SubmitClick(click("l1", "p1")))
		}()
	}
	wg.Wait()
	q.Stop()

	stats, err := analytics.GetLinkAnalytics(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(k), stats.TotalClicks)

	product, err := analytics.GetProductAnalytics(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(k), product.Clicks)
}
