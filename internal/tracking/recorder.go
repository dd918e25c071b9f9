package tracking

import (
	"context"
	"fmt"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/geo"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/metrics"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"go.uber.org/zap"
)

// ClickRecorder persists click events off the redirect hot path. The
// redirect handler submits and returns; geo enrichment and both writes
// (event + counters) happen in the queue workers.
type ClickRecorder struct {
	queue     *Queue
	events    storage.EventStore
	analytics storage.AnalyticsRepo
	geo       geo.Provider // nil when geo enrichment is disabled
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewClickRecorder creates a recorder writing through the given queue.
func NewClickRecorder(queue *Queue, events storage.EventStore, analytics storage.AnalyticsRepo, geoProvider geo.Provider, m *metrics.Metrics, logger *zap.Logger) *ClickRecorder {
	return &ClickRecorder{
		queue:     queue,
		events:    events,
		analytics: analytics,
		geo:       geoProvider,
		metrics:   m,
		logger:    logger,
	}
}

// SubmitClick queues a click for recording. Never blocks; returns false
// when the queue is full and the click was dropped.
func (r *ClickRecorder) SubmitClick(click *models.ClickEvent) bool {
	return r.queue.Submit(&clickTask{recorder: r, click: click})
}

// record runs inside a queue worker.
func (r *ClickRecorder) record(ctx context.Context, click *models.ClickEvent) error {
	if r.geo != nil && click.IPAddress != "" && click.GeoCountry == "" {
		if info, err := r.geo.Lookup(click.IPAddress); err == nil {
			click.GeoCountry = info.Country
			click.GeoRegion = info.Region
			click.GeoCity = info.City
		} else {
			// Private/malformed addresses are expected; enrichment is best effort.
			r.logger.Debug("geo lookup failed", zap.String("ip", click.IPAddress), zap.Error(err))
		}
	}

	if err := r.events.SaveClick(ctx, click); err != nil {
		return fmt.Errorf("save click: %w", err)
	}
	if err := r.analytics.IncrementClicks(ctx, click.LinkID, click.ProductID); err != nil {
		return fmt.Errorf("increment click counters: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordClick(click.ProductID)
	}
	return nil
}

type clickTask struct {
	recorder *ClickRecorder
	click    *models.ClickEvent
}

func (t *clickTask) Name() string { return "click" }

func (t *clickTask) Run(ctx context.Context) error {
	return t.recorder.record(ctx, t.click)
}
