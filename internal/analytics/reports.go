package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// Report types.
const (
	ReportPerformance = "performance" // time-bucketed totals
	ReportLinks       = "links"       // per-link breakdown
	ReportProducts    = "products"    // per-product breakdown
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ReportRequest describes one report to build.
type ReportRequest struct {
	ReportType string        `json:"reportType"`
	DateRange  DateRange     `json:"dateRange"`
	Metrics    []string      `json:"metrics,omitempty"`
	Filters    ReportFilters `json:"filters,omitempty"`
	GroupBy    string        `json:"groupBy,omitempty"` // day/week/month for performance reports
	Format     string        `json:"format,omitempty"`  // json (default) or csv
}

// ReportFilters narrows a report to one link or product. Empty fields
// match everything.
type ReportFilters struct {
	ProductID string `json:"productId,omitempty"`
	LinkID    string `json:"linkId,omitempty"`
}

func (f ReportFilters) matchClick(c *models.ClickEvent) bool {
	return (f.ProductID == "" || c.ProductID == f.ProductID) &&
		(f.LinkID == "" || c.LinkID == f.LinkID)
}

func (f ReportFilters) matchConversion(c *models.ConversionEvent) bool {
	return (f.ProductID == "" || c.ProductID == f.ProductID) &&
		(f.LinkID == "" || c.LinkID == f.LinkID)
}

// ReportRow is one line of a report, keyed by period, link or product.
type ReportRow struct {
	Key     string             `json:"key"`
	Metrics map[string]float64 `json:"metrics"`
}

// Report is a built report, serializable as JSON or CSV.
type Report struct {
	ReportType string      `json:"reportType"`
	GroupBy    string      `json:"groupBy"`
	Columns    []string    `json:"columns"`
	Rows       []ReportRow `json:"rows"`
}

// Report builds the requested report from the event stream.
func (a *Aggregator) Report(ctx context.Context, req ReportRequest) (*Report, error) {
	metricNames := req.Metrics
	if len(metricNames) == 0 {
		metricNames = defaultMetrics
	}

	switch req.ReportType {
	case "", ReportPerformance:
		return a.performanceReport(ctx, req, metricNames)
	case ReportLinks:
		return a.entityReport(ctx, req, metricNames, func(c *models.ClickEvent) string { return c.LinkID },
			func(c *models.ConversionEvent) string { return c.LinkID })
	case ReportProducts:
		return a.entityReport(ctx, req, metricNames, func(c *models.ClickEvent) string { return c.ProductID },
			func(c *models.ConversionEvent) string { return c.ProductID })
	default:
		return nil, fmt.Errorf("unknown report type %q", req.ReportType)
	}
}

func (a *Aggregator) performanceReport(ctx context.Context, req ReportRequest, metricNames []string) (*Report, error) {
	buckets, err := a.timeSeries(ctx, req.DateRange, req.GroupBy, metricNames, req.Filters)
	if err != nil {
		return nil, err
	}
	rows := make([]ReportRow, len(buckets))
	for i, b := range buckets {
		rows[i] = ReportRow{Key: b.Period, Metrics: b.Metrics}
	}
	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = GroupByDay
	}
	return &Report{
		ReportType: ReportPerformance,
		GroupBy:    groupBy,
		Columns:    metricNames,
		Rows:       rows,
	}, nil
}

func (a *Aggregator) entityReport(ctx context.Context, req ReportRequest, metricNames []string, clickKey func(*models.ClickEvent) string, convKey func(*models.ConversionEvent) string) (*Report, error) {
	clicks, err := a.events.ListClicks(ctx, req.DateRange.Start, req.DateRange.End)
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	conversions, err := a.events.ListConversions(ctx, req.DateRange.Start, req.DateRange.End)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}

	type counters struct {
		clicks      int64
		conversions int64
		revenue     float64
	}
	byKey := map[string]*counters{}
	get := func(key string) *counters {
		c := byKey[key]
		if c == nil {
			c = &counters{}
			byKey[key] = c
		}
		return c
	}
	for _, c := range clicks {
		if !req.Filters.matchClick(c) {
			continue
		}
		get(clickKey(c)).clicks++
	}
	for _, c := range conversions {
		if c.Status == models.ConversionRejected || !req.Filters.matchConversion(c) {
			continue
		}
		cnt := get(convKey(c))
		cnt.conversions++
		cnt.revenue += c.OrderValue
	}

	rows := make([]ReportRow, 0, len(byKey))
	for _, key := range sortedKeys(byKey) {
		c := byKey[key]
		m := make(map[string]float64, len(metricNames))
		for _, name := range metricNames {
			m[name] = metricValue(name, c.clicks, c.conversions, c.revenue)
		}
		rows = append(rows, ReportRow{Key: key, Metrics: m})
	}
	return &Report{
		ReportType: req.ReportType,
		GroupBy:    req.ReportType,
		Columns:    metricNames,
		Rows:       rows,
	}, nil
}

// WriteCSV renders the report as CSV: a header row of "key" plus the
// metric columns, one row per entry.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"key"}, r.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range r.Rows {
		record := make([]string, 0, len(header))
		record = append(record, row.Key)
		for _, col := range r.Columns {
			record = append(record, strconv.FormatFloat(row.Metrics[col], 'f', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
