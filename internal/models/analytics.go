package models

import "time"

// LinkAnalytics holds the aggregate counters for one affiliate link.
// Counters are mutated only via atomic increments at the storage layer;
// ConversionRate and AverageOrderValue are always recomputed from the
// canonical counters.
type LinkAnalytics struct {
	LinkID            string    `json:"link_id"`
	TotalClicks       int64     `json:"total_clicks"`
	TotalConversions  int64     `json:"total_conversions"`
	TotalRevenue      float64   `json:"total_revenue"`
	ConversionRate    float64   `json:"conversion_rate"`
	AverageOrderValue float64   `json:"average_order_value"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Recompute refreshes the derived fields from the canonical counters.
func (a *LinkAnalytics) Recompute() {
	if a.TotalClicks > 0 {
		a.ConversionRate = float64(a.TotalConversions) / float64(a.TotalClicks) * 100
	} else {
		a.ConversionRate = 0
	}
	if a.TotalConversions > 0 {
		a.AverageOrderValue = a.TotalRevenue / float64(a.TotalConversions)
	} else {
		a.AverageOrderValue = 0
	}
}

// ProductAnalytics holds the aggregate counters for one product, with the
// same atomicity contract as LinkAnalytics.
type ProductAnalytics struct {
	ProductID   string    `json:"product_id"`
	Views       int64     `json:"views"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	Revenue     float64   `json:"revenue"`
	LastUpdated time.Time `json:"last_updated"`
}
