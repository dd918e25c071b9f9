package rotation

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// LinkStats pairs a candidate link with a snapshot of its aggregate
// counters, loaded fresh for each selection.
type LinkStats struct {
	Link  *models.AffiliateLink
	Stats *models.LinkAnalytics
}

// RandomSource supplies uniform draws in [0,1). *rand.Rand satisfies it;
// tests inject a deterministic source.
type RandomSource interface {
	Float64() float64
}

// Cursor tracks the round-robin position for a product across requests
// and instances.
type Cursor interface {
	// Next advances the cursor for the product and returns an index in [0,n).
	Next(ctx context.Context, productID string, n int) (int, error)
}

// Arms a request can land in.
const (
	ArmExperiment = "experiment"
	ArmControl    = "control"
	ArmSingle     = "single"
)

// Decision is the outcome of one selection.
type Decision struct {
	Link     *models.AffiliateLink
	Strategy string
	Arm      string
}

// Selector implements the rotation strategies. Selection is recomputed
// independently per request; there is no session affinity inside the
// experiment arm.
type Selector struct {
	cursor Cursor
}

// NewSelector creates a selector using the given round-robin cursor.
func NewSelector(cursor Cursor) *Selector {
	return &Selector{cursor: cursor}
}

// Select picks one link from the candidate set according to the config.
// links must all be active and belong to the same product; the caller
// passes them in a fixed order (priority descending, id ascending).
func (s *Selector) Select(ctx context.Context, links []LinkStats, cfg *models.RotationConfig, sessionID string, rng RandomSource) (Decision, error) {
	if len(links) == 0 {
		return Decision{}, fmt.Errorf("no candidate links")
	}
	if len(links) == 1 {
		return Decision{Link: links[0].Link, Strategy: cfg.Strategy, Arm: ArmSingle}, nil
	}

	// Traffic split gate: sessions outside the experiment fraction always
	// receive the baseline link, keeping a stable control group.
	if cfg.TrafficSplit > 0 && cfg.TrafficSplit < 1 {
		var bucket float64
		if sessionID != "" {
			bucket = sessionBucket(sessionID)
		} else {
			bucket = rng.Float64()
		}
		if bucket >= cfg.TrafficSplit {
			return Decision{Link: baseline(links), Strategy: cfg.Strategy, Arm: ArmControl}, nil
		}
	}

	var link *models.AffiliateLink
	var err error
	switch cfg.Strategy {
	case models.StrategyRoundRobin:
		link, err = s.roundRobin(ctx, links, cfg.ProductID)
	case models.StrategyWeighted:
		link = pickWeighted(links, configWeight(cfg), rng.Float64())
	case models.StrategyPerformanceBased:
		link = pickWeighted(links, performanceWeight(links), rng.Float64())
	case models.StrategyRandom:
		link = pickWeighted(links, equalWeight, rng.Float64())
	default:
		return Decision{}, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Link: link, Strategy: cfg.Strategy, Arm: ArmExperiment}, nil
}

func (s *Selector) roundRobin(ctx context.Context, links []LinkStats, productID string) (*models.AffiliateLink, error) {
	idx, err := s.cursor.Next(ctx, productID, len(links))
	if err != nil {
		return nil, fmt.Errorf("round robin cursor: %w", err)
	}
	return links[idx].Link, nil
}

// pickWeighted is inverse-CDF sampling: walk the links in their fixed
// order accumulating normalized weight and return the first link whose
// cumulative weight covers the draw. Weights that are missing, malformed
// or sum to zero degrade to an equal split.
func pickWeighted(links []LinkStats, weight func(LinkStats) float64, r float64) *models.AffiliateLink {
	n := len(links)
	weights := make([]float64, n)
	var total float64
	for i, ls := range links {
		w := weight(ls)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		// Cold start / malformed weights: fair trial for every link.
		for i := range weights {
			weights[i] = 1
		}
		total = float64(n)
	}

	var cum float64
	for i, w := range weights {
		cum += w / total
		if r < cum {
			return links[i].Link
		}
	}
	// Floating point slack on the last bucket.
	return links[n-1].Link
}

func configWeight(cfg *models.RotationConfig) func(LinkStats) float64 {
	return func(ls LinkStats) float64 {
		return cfg.Weights[ls.Link.ID]
	}
}

func performanceWeight(links []LinkStats) func(LinkStats) float64 {
	return func(ls LinkStats) float64 {
		if ls.Stats == nil {
			return 0
		}
		return float64(ls.Stats.TotalConversions)
	}
}

func equalWeight(LinkStats) float64 { return 1 }

// baseline returns the highest-priority active link, the fixed target for
// control traffic.
func baseline(links []LinkStats) *models.AffiliateLink {
	best := links[0].Link
	for _, ls := range links[1:] {
		if ls.Link.Priority > best.Priority {
			best = ls.Link
		}
	}
	return best
}

// sessionBucket maps a session id deterministically to [0,1), so a
// visitor stays in the same traffic-split arm across requests.
func sessionBucket(sessionID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	return float64(h.Sum64()>>11) / float64(1<<53)
}
