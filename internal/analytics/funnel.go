package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"go.uber.org/zap"
)

// Funnel step names, in order.
const (
	StepVisitors     = "Visitors"
	StepProductViews = "ProductViews"
	StepClicks       = "Clicks"
	StepAddToCart    = "AddToCart"
	StepConversions  = "Conversions"
)

// addToCartRate models AddToCart as a fraction of Clicks; no dedicated
// event type exists for it.
const addToCartRate = 0.3

// bottleneckThreshold flags adjacent step pairs converting below this rate.
const bottleneckThreshold = 20.0

// DateRange bounds a report. Zero Start or End means unbounded.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FunnelStep is one stage of the visitor journey with its clamped count.
type FunnelStep struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// StepRate is the conversion rate between two funnel steps.
type StepRate struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Rate    float64 `json:"rate"`
	DropOff float64 `json:"dropOff"`
}

// Bottleneck annotates an underperforming step pair with a fixed
// recommendation.
type Bottleneck struct {
	Step           string `json:"step"`
	Issue          string `json:"issue"`
	Impact         string `json:"impact"` // low, medium, high
	Recommendation string `json:"recommendation"`
}

// UserBehavior summarizes click behavior within the range.
type UserBehavior struct {
	AvgClicksPerVisitor float64 `json:"avgClicksPerVisitor"`
	MobileShare         float64 `json:"mobileShare"` // fraction of clicks from mobile devices
	PeakHour            int     `json:"peakHour"`    // UTC hour with the most clicks
}

// FunnelReport is the full response of the funnel endpoint.
type FunnelReport struct {
	Steps           []FunnelStep `json:"steps"`
	ConversionRates []StepRate   `json:"conversionRates"`
	UserBehavior    UserBehavior `json:"userBehavior"`
	SegmentAnalysis []Segment    `json:"segmentAnalysis"`
	Bottlenecks     []Bottleneck `json:"bottlenecks"`
}

// Aggregator turns raw events into funnels, segment breakdowns, time
// series and reports. Read-only; safe for concurrent use.
type Aggregator struct {
	events    storage.EventStore
	analytics storage.AnalyticsRepo
	logger    *zap.Logger
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(events storage.EventStore, analytics storage.AnalyticsRepo, logger *zap.Logger) *Aggregator {
	return &Aggregator{events: events, analytics: analytics, logger: logger}
}

// Funnel computes the funnel report for the range, optionally narrowed to
// one segment ("mobile", "desktop", or a referrer-domain substring).
func (a *Aggregator) Funnel(ctx context.Context, dr DateRange, segment string) (*FunnelReport, error) {
	clicks, err := a.events.ListClicks(ctx, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	conversions, err := a.events.ListConversions(ctx, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}

	if segment != "" {
		clicks, conversions = filterSegment(clicks, conversions, segment)
	}

	views, err := a.viewsForClicks(ctx, clicks)
	if err != nil {
		return nil, err
	}

	steps := buildSteps(clicks, conversions, views)
	rates := conversionRates(steps)

	return &FunnelReport{
		Steps:           steps,
		ConversionRates: rates,
		UserBehavior:    behavior(clicks),
		SegmentAnalysis: segments(clicks, conversions),
		Bottlenecks:     DetectBottlenecks(rates),
	}, nil
}

// viewsForClicks sums the view counters of every product seen in the
// click set. View counters are lifetime totals, not range-scoped; the
// clamping below keeps the funnel consistent regardless.
func (a *Aggregator) viewsForClicks(ctx context.Context, clicks []*models.ClickEvent) (int64, error) {
	seen := map[string]bool{}
	var total int64
	for _, c := range clicks {
		if seen[c.ProductID] {
			continue
		}
		seen[c.ProductID] = true
		pa, err := a.analytics.GetProductAnalytics(ctx, c.ProductID)
		if err != nil {
			return 0, fmt.Errorf("product analytics %s: %w", c.ProductID, err)
		}
		total += pa.Views
	}
	return total, nil
}

// buildSteps computes raw step values and clamps them top-down so the
// funnel is monotonically non-increasing. Raw values carry implication
// floors first: a conversion implies an add-to-cart, a click implies a
// product view and a visitor.
func buildSteps(clicks []*models.ClickEvent, conversions []*models.ConversionEvent, views int64) []FunnelStep {
	sessions := map[string]bool{}
	for _, c := range clicks {
		sessions[c.SessionID] = true
	}

	clickCount := int64(len(clicks))
	var convCount int64
	for _, c := range conversions {
		if c.Status != models.ConversionRejected {
			convCount++
		}
	}

	visitors := int64(len(sessions))
	if visitors < 1 && clickCount > 0 {
		visitors = 1
	}
	productViews := views
	if productViews < clickCount {
		productViews = clickCount
	}
	addToCart := int64(math.Round(float64(clickCount) * addToCartRate))
	if addToCart < convCount {
		addToCart = convCount
	}

	values := []int64{visitors, productViews, clickCount, addToCart, convCount}
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			values[i] = values[i-1]
		}
	}

	names := []string{StepVisitors, StepProductViews, StepClicks, StepAddToCart, StepConversions}
	steps := make([]FunnelStep, len(names))
	for i, n := range names {
		steps[i] = FunnelStep{Name: n, Value: values[i]}
	}
	return steps
}

// conversionRates builds the adjacent-pair matrix plus the overall
// Clicks->Conversions rate.
func conversionRates(steps []FunnelStep) []StepRate {
	rates := make([]StepRate, 0, len(steps))
	for i := 1; i < len(steps); i++ {
		rates = append(rates, stepRate(steps[i-1], steps[i]))
	}
	rates = append(rates, stepRate(steps[2], steps[4]))
	return rates
}

func stepRate(from, to FunnelStep) StepRate {
	var rate float64
	if from.Value > 0 {
		rate = float64(to.Value) / float64(from.Value) * 100
	}
	return StepRate{From: from.Name, To: to.Name, Rate: rate, DropOff: 100 - rate}
}

// bottleneckCatalog maps each adjacent step pair to its fixed diagnosis.
var bottleneckCatalog = map[string]Bottleneck{
	StepVisitors + ">" + StepProductViews: {
		Step:           StepVisitors + " -> " + StepProductViews,
		Issue:          "low product discovery",
		Impact:         "high",
		Recommendation: "Improve site navigation and internal search so visitors reach product pages.",
	},
	StepProductViews + ">" + StepClicks: {
		Step:           StepProductViews + " -> " + StepClicks,
		Issue:          "weak product page engagement",
		Impact:         "high",
		Recommendation: "Strengthen calls to action and affiliate link placement on product pages.",
	},
	StepClicks + ">" + StepAddToCart: {
		Step:           StepClicks + " -> " + StepAddToCart,
		Issue:          "low purchase intent after click-through",
		Impact:         "medium",
		Recommendation: "Review merchant landing page relevance and load time for clicked links.",
	},
	StepAddToCart + ">" + StepConversions: {
		Step:           StepAddToCart + " -> " + StepConversions,
		Issue:          "checkout drop-off",
		Impact:         "high",
		Recommendation: "Simplify the merchant checkout path and verify pricing consistency.",
	},
}

// healthyBottleneck is returned when no pair breaches the threshold; the
// bottleneck list is never empty.
var healthyBottleneck = Bottleneck{
	Step:           "overall",
	Issue:          "no significant bottleneck detected",
	Impact:         "low",
	Recommendation: "Funnel is healthy. Continue monitoring conversion rates.",
}

// DetectBottlenecks flags adjacent step pairs converting below the
// threshold. The overall Clicks->Conversions summary pair is ignored.
func DetectBottlenecks(rates []StepRate) []Bottleneck {
	var out []Bottleneck
	for _, r := range rates {
		entry, ok := bottleneckCatalog[r.From+">"+r.To]
		if !ok {
			continue
		}
		if r.Rate < bottleneckThreshold {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		out = append(out, healthyBottleneck)
	}
	return out
}

func behavior(clicks []*models.ClickEvent) UserBehavior {
	if len(clicks) == 0 {
		return UserBehavior{}
	}

	sessions := map[string]bool{}
	hours := [24]int{}
	mobile := 0
	for _, c := range clicks {
		sessions[c.SessionID] = true
		hours[c.Timestamp.UTC().Hour()]++
		if c.Device == "mobile" || c.Device == "tablet" {
			mobile++
		}
	}

	peak := 0
	for h, n := range hours {
		if n > hours[peak] {
			peak = h
		}
	}

	return UserBehavior{
		AvgClicksPerVisitor: float64(len(clicks)) / float64(len(sessions)),
		MobileShare:         float64(mobile) / float64(len(clicks)),
		PeakHour:            peak,
	}
}

// sortedKeys returns map keys in deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
