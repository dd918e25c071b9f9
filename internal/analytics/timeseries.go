package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// Time-series granularities.
const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"
)

// Metric names selectable in time series and reports.
const (
	MetricClicks            = "clicks"
	MetricConversions       = "conversions"
	MetricRevenue           = "revenue"
	MetricConversionRate    = "conversionRate"
	MetricAverageOrderValue = "averageOrderValue"
)

// defaultMetrics is the projection used when the caller selects none.
var defaultMetrics = []string{MetricClicks, MetricConversions, MetricRevenue, MetricConversionRate}

// TimeBucket is one period of a time series with the selected metrics.
type TimeBucket struct {
	Period  string             `json:"period"`
	Metrics map[string]float64 `json:"metrics"`
}

// TimeSeries buckets clicks and conversions by day, week or month and
// projects the selected metrics per bucket. Buckets are returned in
// chronological order; periods with no events are omitted.
func (a *Aggregator) TimeSeries(ctx context.Context, dr DateRange, groupBy string, metricNames []string) ([]TimeBucket, error) {
	return a.timeSeries(ctx, dr, groupBy, metricNames, ReportFilters{})
}

func (a *Aggregator) timeSeries(ctx context.Context, dr DateRange, groupBy string, metricNames []string, filters ReportFilters) ([]TimeBucket, error) {
	if groupBy == "" {
		groupBy = GroupByDay
	}
	if groupBy != GroupByDay && groupBy != GroupByWeek && groupBy != GroupByMonth {
		return nil, fmt.Errorf("unknown grouping %q", groupBy)
	}
	if len(metricNames) == 0 {
		metricNames = defaultMetrics
	}

	clicks, err := a.events.ListClicks(ctx, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	conversions, err := a.events.ListConversions(ctx, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}

	type counters struct {
		clicks      int64
		conversions int64
		revenue     float64
	}
	buckets := map[string]*counters{}
	bucketOf := func(t time.Time) *counters {
		key := truncatePeriod(t.UTC(), groupBy)
		b := buckets[key]
		if b == nil {
			b = &counters{}
			buckets[key] = b
		}
		return b
	}

	for _, c := range clicks {
		if !filters.matchClick(c) {
			continue
		}
		bucketOf(c.Timestamp).clicks++
	}
	for _, c := range conversions {
		if c.Status == models.ConversionRejected || !filters.matchConversion(c) {
			continue
		}
		b := bucketOf(c.Timestamp)
		b.conversions++
		b.revenue += c.OrderValue
	}

	out := make([]TimeBucket, 0, len(buckets))
	for _, key := range sortedKeys(buckets) {
		b := buckets[key]
		m := make(map[string]float64, len(metricNames))
		for _, name := range metricNames {
			m[name] = metricValue(name, b.clicks, b.conversions, b.revenue)
		}
		out = append(out, TimeBucket{Period: key, Metrics: m})
	}
	return out, nil
}

func metricValue(name string, clicks, conversions int64, revenue float64) float64 {
	switch name {
	case MetricClicks:
		return float64(clicks)
	case MetricConversions:
		return float64(conversions)
	case MetricRevenue:
		return revenue
	case MetricConversionRate:
		if clicks == 0 {
			return 0
		}
		return float64(conversions) / float64(clicks) * 100
	case MetricAverageOrderValue:
		if conversions == 0 {
			return 0
		}
		return revenue / float64(conversions)
	default:
		return 0
	}
}

// truncatePeriod maps a timestamp to its bucket key. Weeks start on
// Monday.
func truncatePeriod(t time.Time, groupBy string) string {
	switch groupBy {
	case GroupByWeek:
		offset := (int(t.Weekday()) + 6) % 7
		start := t.AddDate(0, 0, -offset)
		return start.Format("2006-01-02")
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}
