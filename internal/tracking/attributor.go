package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/metrics"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"go.uber.org/zap"
)

// ConversionSignal is a merchant-reported purchase as received on the
// wire, before attribution.
type ConversionSignal struct {
	LinkID          string  `json:"link_id"`
	ClickID         string  `json:"click_id"`
	SessionID       string  `json:"session_id"`
	OrderValue      float64 `json:"order_value"`
	Currency        string  `json:"currency"`
	ExternalOrderID string  `json:"external_order_id"`
}

// Validate checks the signal is attributable at all.
func (s *ConversionSignal) Validate() models.FieldErrors {
	errs := models.FieldErrors{}
	if s.LinkID == "" && s.ClickID == "" {
		errs["link_id"] = "either link_id or click_id is required"
	}
	if s.OrderValue < 0 {
		errs["order_value"] = "must not be negative"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ConversionAttributor turns conversion signals into ConversionEvents.
// Attribution is last-click: a signal carrying a click id binds to that
// click directly; otherwise the most recent click for the link (and
// session, when given) within the lookback window wins. Counter updates
// are atomic increments at the storage layer, so the attributor can run
// concurrently with the click recorder.
type ConversionAttributor struct {
	events    storage.EventStore
	analytics storage.AnalyticsRepo
	links     storage.LinkRepo
	lookback  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewConversionAttributor creates an attributor with the given lookback
// window for session-based attribution.
func NewConversionAttributor(events storage.EventStore, analytics storage.AnalyticsRepo, links storage.LinkRepo, lookback time.Duration, m *metrics.Metrics, logger *zap.Logger) *ConversionAttributor {
	return &ConversionAttributor{
		events:    events,
		analytics: analytics,
		links:     links,
		lookback:  lookback,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Attribute resolves the signal to a link, persists the ConversionEvent
// and applies the revenue/conversion counters. Returns
// storage.ErrDuplicateConversion when the external order id was already
// recorded for the link.
func (a *ConversionAttributor) Attribute(ctx context.Context, sig *ConversionSignal) (*models.ConversionEvent, error) {
	if errs := sig.Validate(); errs != nil {
		return nil, fmt.Errorf("invalid conversion signal: %v", errs)
	}

	linkID := sig.LinkID
	clickID := sig.ClickID

	if clickID != "" {
		click, err := a.events.GetClick(ctx, clickID)
		if err != nil {
			return nil, fmt.Errorf("resolve click %s: %w", clickID, err)
		}
		linkID = click.LinkID
	} else {
		since := a.now().Add(-a.lookback)
		click, err := a.events.LastClick(ctx, linkID, sig.SessionID, since)
		switch {
		case err == nil:
			clickID = click.ID
		case errors.Is(err, storage.ErrNotFound):
			// No click in the window; the conversion still counts against
			// the link, just without a click binding.
		default:
			return nil, fmt.Errorf("last-click lookup: %w", err)
		}
	}

	link, err := a.links.GetByID(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("resolve link %s: %w", linkID, err)
	}

	currency := sig.Currency
	if currency == "" {
		currency = "USD"
	}
	conv := &models.ConversionEvent{
		ID:              uuid.New().String(),
		LinkID:          link.ID,
		ClickID:         clickID,
		ProductID:       link.ProductID,
		OrderValue:      sig.OrderValue,
		Commission:      sig.OrderValue * link.Commission,
		Currency:        currency,
		Status:          models.ConversionPending,
		ExternalOrderID: sig.ExternalOrderID,
		Timestamp:       a.now().UTC(),
	}

	if err := a.events.SaveConversion(ctx, conv); err != nil {
		if errors.Is(err, storage.ErrDuplicateConversion) {
			if a.metrics != nil {
				a.metrics.RecordDuplicateOrder(link.ProductID)
			}
			a.logger.Info("duplicate conversion ignored",
				zap.String("link_id", link.ID),
				zap.String("external_order_id", sig.ExternalOrderID))
		}
		return nil, err
	}

	if err := a.analytics.ApplyConversion(ctx, link.ID, link.ProductID, conv.OrderValue); err != nil {
		// The event is durable; counters catch up on the next aggregate
		// rebuild. Log and surface nothing to the merchant.
		a.logger.Error("failed to apply conversion counters",
			zap.String("conversion_id", conv.ID), zap.Error(err))
	}

	if a.metrics != nil {
		a.metrics.RecordConversion(link.ProductID, conv.Status, conv.Currency, conv.OrderValue)
	}
	a.logger.Info("conversion attributed",
		zap.String("conversion_id", conv.ID),
		zap.String("link_id", link.ID),
		zap.String("click_id", clickID),
		zap.Float64("order_value", conv.OrderValue))
	return conv, nil
}

// UpdateStatus moves a conversion from PENDING to CONFIRMED or REJECTED.
func (a *ConversionAttributor) UpdateStatus(ctx context.Context, id, status string) error {
	if status != models.ConversionConfirmed && status != models.ConversionRejected {
		return fmt.Errorf("%w: target status %q", storage.ErrInvalidTransition, status)
	}
	if err := a.events.UpdateConversionStatus(ctx, id, status); err != nil {
		return err
	}
	if a.metrics != nil {
		conv, err := a.events.GetConversion(ctx, id)
		if err == nil {
			a.metrics.RecordConversion(conv.ProductID, status, conv.Currency, 0)
		}
	}
	return nil
}
