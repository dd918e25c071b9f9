package models

import (
	"fmt"
	"time"
)

// AffiliateLink is one outbound, trackable URL to a merchant for a given
// product/platform. A product owns many links; only active links take part
// in rotation. Links with analytics history are deactivated, never deleted.
type AffiliateLink struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	Platform     string    `json:"platform"`
	OriginalURL  string    `json:"original_url"`
	ShortenedURL string    `json:"shortened_url"`
	Commission   float64   `json:"commission"` // fraction 0..1
	Priority     int       `json:"priority"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks link fields before persistence.
func (l *AffiliateLink) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("link id is required")
	}
	if l.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if l.OriginalURL == "" {
		return fmt.Errorf("original_url is required")
	}
	if l.Commission < 0 || l.Commission > 1 {
		return fmt.Errorf("commission must be in [0,1], got %f", l.Commission)
	}
	return nil
}

// Rotation strategies.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyWeighted         = "weighted"
	StrategyPerformanceBased = "performance_based"
	StrategyRandom           = "random"
)

// RotationConfig selects how traffic is distributed across a product's
// active links. One config per product.
type RotationConfig struct {
	ProductID    string             `json:"product_id"`
	Strategy     string             `json:"strategy"`
	Weights      map[string]float64 `json:"weights,omitempty"` // link_id -> fraction
	TrafficSplit float64            `json:"traffic_split"`     // fraction of visitors in rotation, 0.1..1.0
	TestDuration int                `json:"test_duration"`     // days, reporting only
	UpdatedAt    time.Time          `json:"updated_at"`
}

// ValidStrategy reports whether s names a known rotation strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyRoundRobin, StrategyWeighted, StrategyPerformanceBased, StrategyRandom:
		return true
	}
	return false
}

// FieldErrors maps field names to validation messages.
type FieldErrors map[string]string

// Validate returns per-field errors for an admin-submitted config.
func (c *RotationConfig) Validate() FieldErrors {
	errs := FieldErrors{}
	if c.ProductID == "" {
		errs["product_id"] = "product id is required"
	}
	if !ValidStrategy(c.Strategy) {
		errs["strategy"] = fmt.Sprintf("unknown strategy %q", c.Strategy)
	}
	if c.TrafficSplit < 0.1 || c.TrafficSplit > 1.0 {
		errs["traffic_split"] = "traffic split must be between 0.1 and 1.0"
	}
	for linkID, w := range c.Weights {
		if w < 0 || w > 1 {
			errs["weights"] = fmt.Sprintf("weight for link %s must be in [0,1]", linkID)
			break
		}
	}
	if c.TestDuration < 0 {
		errs["test_duration"] = "test duration must not be negative"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
