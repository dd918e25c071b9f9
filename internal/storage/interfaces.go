package storage

import (
	"context"
	"errors"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// Sentinel errors returned by repositories.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateConversion indicates a conversion with the same
	// (link_id, external_order_id) was already recorded.
	ErrDuplicateConversion = errors.New("duplicate conversion")

	// ErrInvalidTransition indicates a disallowed conversion status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================
// LINK REPOSITORY
// =============================================

// LinkRepo defines operations for affiliate link storage.
type LinkRepo interface {
	GetByID(ctx context.Context, id string) (*models.AffiliateLink, error)
	GetByShortCode(ctx context.Context, shortCode string) (*models.AffiliateLink, error)
	GetActiveByProduct(ctx context.Context, productID string) ([]*models.AffiliateLink, error)
	Upsert(ctx context.Context, link *models.AffiliateLink) error
	Deactivate(ctx context.Context, id string) error
}

// =============================================
// ROTATION CONFIG REPOSITORY
// =============================================

// RotationConfigRepo defines operations for per-product rotation configs.
type RotationConfigRepo interface {
	Get(ctx context.Context, productID string) (*models.RotationConfig, error)
	Upsert(ctx context.Context, cfg *models.RotationConfig) error
}

// =============================================
// EVENT STORE
// =============================================

// EventStore defines operations for click and conversion event storage.
type EventStore interface {
	// Clicks
	SaveClick(ctx context.Context, click *models.ClickEvent) error
	GetClick(ctx context.Context, id string) (*models.ClickEvent, error)
	// LastClick returns the most recent click for the link within the
	// lookback window, optionally narrowed to one session. Returns
	// ErrNotFound when no click matches.
	LastClick(ctx context.Context, linkID, sessionID string, since time.Time) (*models.ClickEvent, error)
	ListClicks(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error)

	// Conversions
	// SaveConversion returns ErrDuplicateConversion when the event
	// carries an external order id already recorded for the same link.
	SaveConversion(ctx context.Context, conv *models.ConversionEvent) error
	GetConversion(ctx context.Context, id string) (*models.ConversionEvent, error)
	UpdateConversionStatus(ctx context.Context, id, status string) error
	ListConversions(ctx context.Context, from, to time.Time) ([]*models.ConversionEvent, error)
}

// =============================================
// ANALYTICS REPOSITORY
// =============================================

// AnalyticsRepo maintains the aggregate counters. All mutation is by
// atomic increment at the storage layer; read-modify-write cycles are not
// permitted (concurrent writers would lose updates).
type AnalyticsRepo interface {
	IncrementClicks(ctx context.Context, linkID, productID string) error
	IncrementViews(ctx context.Context, productID string) error
	ApplyConversion(ctx context.Context, linkID, productID string, revenue float64) error

	GetLinkAnalytics(ctx context.Context, linkID string) (*models.LinkAnalytics, error)
	GetLinkAnalyticsBatch(ctx context.Context, linkIDs []string) (map[string]*models.LinkAnalytics, error)
	GetProductAnalytics(ctx context.Context, productID string) (*models.ProductAnalytics, error)
}
