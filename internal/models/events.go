package models

import "time"

// ClickEvent is the immutable record of one resolved redirect.
type ClickEvent struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"link_id"`
	ProductID  string    `json:"product_id"`
	SessionID  string    `json:"session_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Referrer   string    `json:"referrer,omitempty"`
	Device     string    `json:"device,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	OS         string    `json:"os,omitempty"`
	GeoCountry string    `json:"geo_country,omitempty"`
	GeoRegion  string    `json:"geo_region,omitempty"`
	GeoCity    string    `json:"geo_city,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversion statuses. PENDING may transition to CONFIRMED or REJECTED;
// both of those are terminal.
const (
	ConversionPending   = "PENDING"
	ConversionConfirmed = "CONFIRMED"
	ConversionRejected  = "REJECTED"
)

// ConversionEvent records a merchant-reported purchase attributed to a
// click/link.
type ConversionEvent struct {
	ID              string    `json:"id"`
	LinkID          string    `json:"link_id"`
	ClickID         string    `json:"click_id,omitempty"`
	ProductID       string    `json:"product_id,omitempty"`
	OrderValue      float64   `json:"order_value"`
	Commission      float64   `json:"commission"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	ExternalOrderID string    `json:"external_order_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ValidTransition reports whether a conversion status change is allowed.
func ValidTransition(from, to string) bool {
	if from != ConversionPending {
		return false
	}
	return to == ConversionConfirmed || to == ConversionRejected
}
