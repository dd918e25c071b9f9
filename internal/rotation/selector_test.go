package rotation

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLinks(specs ...struct {
	id       string
	priority int
	convs    int64
}) []LinkStats {
	links := make([]LinkStats, 0, len(specs))
	for _, s := range specs {
		links = append(links, LinkStats{
			Link: &models.AffiliateLink{
				ID:        s.id,
				ProductID: "p1",
				Priority:  s.priority,
				IsActive:  true,
			},
			Stats: &models.LinkAnalytics{LinkID: s.id, TotalConversions: s.convs},
		})
	}
	return links
}

type linkSpec = struct {
	id       string
	priority int
	convs    int64
}

func TestSelectSingleLink(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(linkSpec{id: "a", priority: 1})
	cfg := &models.RotationConfig{ProductID: "p1", Strategy: models.StrategyWeighted, TrafficSplit: 1.0}

	d, err := sel.Select(context.Background(), links, cfg, "s1", rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "a", d.Link.ID)
	assert.Equal(t, ArmSingle, d.Arm)
}

func TestSelectNoLinks(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	cfg := &models.RotationConfig{ProductID: "p1", Strategy: models.StrategyRandom, TrafficSplit: 1.0}

	_, err := sel.Select(context.Background(), nil, cfg, "s1", rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestWeightedConvergesToConfiguredWeights(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(
		linkSpec{id: "a", priority: 3},
		linkSpec{id: "b", priority: 2},
		linkSpec{id: "c", priority: 1},
	)
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyWeighted,
		Weights:      map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2},
		TrafficSplit: 1.0,
	}

	rng := rand.New(rand.NewSource(42))
	const m = 10000
	counts := map[string]int{}
	for i := 0; i < m; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "", rng)
		require.NoError(t, err)
		counts[d.Link.ID]++
	}

	assert.InDelta(t, 0.5, float64(counts["a"])/m, 0.05)
	assert.InDelta(t, 0.3, float64(counts["b"])/m, 0.05)
	assert.InDelta(t, 0.2, float64(counts["c"])/m, 0.05)
}

func TestWeightedMissingWeightsFallsBackToEqual(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(linkSpec{id: "a", priority: 2}, linkSpec{id: "b", priority: 1})
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyWeighted,
		TrafficSplit: 1.0,
	}

	rng := rand.New(rand.NewSource(7))
	const m = 10000
	counts := map[string]int{}
	for i := 0; i < m; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "", rng)
		require.NoError(t, err)
		counts[d.Link.ID]++
	}

	assert.InDelta(t, 0.5, float64(counts["a"])/m, 0.05)
	assert.InDelta(t, 0.5, float64(counts["b"])/m, 0.05)
}

// With zero conversions everywhere, performance-based selection gives
// every link an equal trial.
func TestPerformanceBasedColdStart(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	// Scenario: A has priority 10, B priority 5, both with 0 conversions.
	links := makeLinks(linkSpec{id: "A", priority: 10}, linkSpec{id: "B", priority: 5})
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyPerformanceBased,
		TrafficSplit: 1.0,
	}

	rng := rand.New(rand.NewSource(99))
	const m = 1000
	counts := map[string]int{}
	for i := 0; i < m; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "", rng)
		require.NoError(t, err)
		counts[d.Link.ID]++
	}

	assert.InDelta(t, 500, counts["A"], 50)
	assert.InDelta(t, 500, counts["B"], 50)
}

func TestPerformanceBasedFollowsConversions(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(linkSpec{id: "a", priority: 1, convs: 90}, linkSpec{id: "b", priority: 2, convs: 10})
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyPerformanceBased,
		TrafficSplit: 1.0,
	}

	rng := rand.New(rand.NewSource(5))
	const m = 10000
	counts := map[string]int{}
	for i := 0; i < m; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "", rng)
		require.NoError(t, err)
		counts[d.Link.ID]++
	}

	assert.InDelta(t, 0.9, float64(counts["a"])/m, 0.05)
	assert.InDelta(t, 0.1, float64(counts["b"])/m, 0.05)
}

func TestRoundRobinCyclesDeterministically(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(
		linkSpec{id: "a", priority: 3},
		linkSpec{id: "b", priority: 2},
		linkSpec{id: "c", priority: 1},
	)
	cfg := &models.RotationConfig{ProductID: "p1", Strategy: models.StrategyRoundRobin, TrafficSplit: 1.0}

	rng := rand.New(rand.NewSource(1))
	var got []string
	for i := 0; i < 6; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "", rng)
		require.NoError(t, err)
		got = append(got, d.Link.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestTrafficSplitControlGetsBaseline(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(linkSpec{id: "low", priority: 1}, linkSpec{id: "high", priority: 9})
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyRandom,
		TrafficSplit: 0.5,
	}

	rng := rand.New(rand.NewSource(3))
	control := 0
	const m = 10000
	for i := 0; i < m; i++ {
		// Fresh session per request spreads buckets across [0,1).
		d, err := sel.Select(context.Background(), links, cfg, uuidLike(i), rng)
		require.NoError(t, err)
		if d.Arm == ArmControl {
			control++
			assert.Equal(t, "high", d.Link.ID, "control traffic must get the highest-priority link")
		}
	}
	assert.InDelta(t, 0.5, float64(control)/m, 0.05)
}

func TestTrafficSplitStablePerSession(t *testing.T) {
	sel := NewSelector(NewMemoryCursor())
	links := makeLinks(linkSpec{id: "a", priority: 2}, linkSpec{id: "b", priority: 1})
	cfg := &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyRandom,
		TrafficSplit: 0.5,
	}

	rng := rand.New(rand.NewSource(11))
	first, err := sel.Select(context.Background(), links, cfg, "sticky-session", rng)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		d, err := sel.Select(context.Background(), links, cfg, "sticky-session", rng)
		require.NoError(t, err)
		// The arm never flips for a given session.
		assert.Equal(t, first.Arm == ArmControl, d.Arm == ArmControl)
	}
}

func TestMemoryCursorWraps(t *testing.T) {
	c := NewMemoryCursor()
	ctx := context.Background()
	for want := 0; want < 7; want++ {
		got, err := c.Next(ctx, "p1", 3)
		require.NoError(t, err)
		assert.Equal(t, want%3, got)
	}
}

func uuidLike(i int) string {
	return string(rune('a'+i%26)) + "-" + string(rune('0'+i%10)) + "-" + strconv.Itoa(i)
}
