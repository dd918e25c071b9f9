package analytics

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedEvents(t *testing.T) *Aggregator {
	t.Helper()
	events := storage.NewInMemoryEventStore()
	analytics := storage.NewInMemoryAnalyticsRepo()
	ctx := context.Background()

	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // Monday
	day2 := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		link string
		at   time.Time
	}{
		{"l1", day1}, {"l1", day1.Add(time.Hour)}, {"l2", day1},
		{"l1", day2}, {"l2", day2},
	} {
		require.NoError(t, events.SaveClick(ctx, &models.ClickEvent{
			ID:        "c" + strconv.Itoa(i),
			LinkID:    spec.link,
			ProductID: "p1",
			SessionID: "s" + strconv.Itoa(i),
			Timestamp: spec.at,
		}))
	}
	require.NoError(t, events.SaveConversion(ctx, &models.ConversionEvent{
		ID: "cv1", LinkID: "l1", ProductID: "p1", OrderValue: 100,
		Status: models.ConversionConfirmed, Timestamp: day1.Add(2 * time.Hour),
	}))
	require.NoError(t, events.SaveConversion(ctx, &models.ConversionEvent{
		ID: "cv2", LinkID: "l2", ProductID: "p1", OrderValue: 50,
		Status: models.ConversionRejected, Timestamp: day2,
	}))

	return NewAggregator(events, analytics, zap.NewNop())
}

func TestTimeSeriesDailyBuckets(t *testing.T) {
	agg := seedEvents(t)

	buckets, err := agg.TimeSeries(context.Background(), DateRange{}, GroupByDay, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, "2026-03-02", buckets[0].Period)
	assert.Equal(t, 3.0, buckets[0].Metrics[MetricClicks])
	assert.Equal(t, 1.0, buckets[0].Metrics[MetricConversions])
	assert.Equal(t, 100.0, buckets[0].Metrics[MetricRevenue])

	assert.Equal(t, "2026-03-03", buckets[1].Period)
	assert.Equal(t, 2.0, buckets[1].Metrics[MetricClicks])
	// Rejected conversions are excluded.
	assert.Equal(t, 0.0, buckets[1].Metrics[MetricConversions])
}

func TestTimeSeriesWeeklyBuckets(t *testing.T) {
	agg := seedEvents(t)

	buckets, err := agg.TimeSeries(context.Background(), DateRange{}, GroupByWeek, []string{MetricClicks})
	require.NoError(t, err)
	// Both days fall in the week starting Monday 2026-03-02.
	require.Len(t, buckets, 1)
	assert.Equal(t, "2026-03-02", buckets[0].Period)
	assert.Equal(t, 5.0, buckets[0].Metrics[MetricClicks])
}

func TestTimeSeriesRejectsUnknownGrouping(t *testing.T) {
	agg := seedEvents(t)
	_, err := agg.TimeSeries(context.Background(), DateRange{}, "hourly", nil)
	require.Error(t, err)
}

func TestLinksReport(t *testing.T) {
	agg := seedEvents(t)

	report, err := agg.Report(context.Background(), ReportRequest{
		ReportType: ReportLinks,
		Metrics:    []string{MetricClicks, MetricConversions, MetricRevenue},
	})
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	assert.Equal(t, "l1", report.Rows[0].Key)
	assert.Equal(t, 3.0, report.Rows[0].Metrics[MetricClicks])
	assert.Equal(t, 1.0, report.Rows[0].Metrics[MetricConversions])
	assert.Equal(t, 100.0, report.Rows[0].Metrics[MetricRevenue])

	assert.Equal(t, "l2", report.Rows[1].Key)
	assert.Equal(t, 2.0, report.Rows[1].Metrics[MetricClicks])
	assert.Equal(t, 0.0, report.Rows[1].Metrics[MetricConversions])
}

func TestReportCSV(t *testing.T) {
	agg := seedEvents(t)

	report, err := agg.Report(context.Background(), ReportRequest{
		ReportType: ReportLinks,
		Metrics:    []string{MetricClicks, MetricRevenue},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf))

	want := "key,clicks,revenue\n" +
		"l1,3,100\n" +
		"l2,2,0\n"
	assert.Equal(t, want, buf.String())
}

func TestLinksReportFiltersByLink(t *testing.T) {
	agg := seedEvents(t)

	report, err := agg.Report(context.Background(), ReportRequest{
		ReportType: ReportLinks,
		Metrics:    []string{MetricClicks, MetricConversions, MetricRevenue},
		Filters:    ReportFilters{LinkID: "l1"},
	})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)

	assert.Equal(t, "l1", report.Rows[0].Key)
	assert.Equal(t, 3.0, report.Rows[0].Metrics[MetricClicks])
	assert.Equal(t, 1.0, report.Rows[0].Metrics[MetricConversions])
	assert.Equal(t, 100.0, report.Rows[0].Metrics[MetricRevenue])
}

func TestPerformanceReportFiltersByProduct(t *testing.T) {
	events := storage.NewInMemoryEventStore()
	analytics := storage.NewInMemoryAnalyticsRepo()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i, product := range []string{"p1", "p1", "p2"} {
		require.NoError(t, events.SaveClick(ctx, &models.ClickEvent{
			ID:        "c" + strconv.Itoa(i),
			LinkID:    "l" + strconv.Itoa(i),
			ProductID: product,
			SessionID: "s" + strconv.Itoa(i),
			Timestamp: day,
		}))
	}
	agg := NewAggregator(events, analytics, zap.NewNop())

	report, err := agg.Report(context.Background(), ReportRequest{
		ReportType: ReportPerformance,
		Metrics:    []string{MetricClicks},
		Filters:    ReportFilters{ProductID: "p1"},
	})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, 2.0, report.Rows[0].Metrics[MetricClicks])
}

func TestReportRejectsUnknownType(t *testing.T) {
	agg := seedEvents(t)
	_, err := agg.Report(context.Background(), ReportRequest{ReportType: "bogus"})
	require.Error(t, err)
}
