package warehouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// ClickHouseWriter writes event batches to ClickHouse tables.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter creates a writer over an open connection.
func NewClickHouseWriter(conn driver.Conn) *ClickHouseWriter {
	return &ClickHouseWriter{conn: conn}
}

func (w *ClickHouseWriter) WriteClicks(ctx context.Context, clicks []*models.ClickEvent) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO click_events (
			id, link_id, product_id, session_id, ip_address, user_agent,
			referrer, device, browser, os, geo_country, geo_region, geo_city,
			timestamp
		)`)
	if err != nil {
		return fmt.Errorf("prepare click batch: %w", err)
	}
	for _, c := range clicks {
		if err := batch.Append(
			c.ID, c.LinkID, c.ProductID, c.SessionID, c.IPAddress, c.UserAgent,
			c.Referrer, c.Device, c.Browser, c.OS, c.GeoCountry, c.GeoRegion,
			c.GeoCity, c.Timestamp,
		); err != nil {
			return fmt.Errorf("append click: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send click batch: %w", err)
	}
	return nil
}

func (w *ClickHouseWriter) WriteConversions(ctx context.Context, conversions []*models.ConversionEvent) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO conversion_events (
			id, link_id, click_id, product_id, order_value, commission,
			currency, status, external_order_id, timestamp
		)`)
	if err != nil {
		return fmt.Errorf("prepare conversion batch: %w", err)
	}
	for _, c := range conversions {
		if err := batch.Append(
			c.ID, c.LinkID, c.ClickID, c.ProductID, c.OrderValue, c.Commission,
			c.Currency, c.Status, c.ExternalOrderID, c.Timestamp,
		); err != nil {
			return fmt.Errorf("append conversion: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send conversion batch: %w", err)
	}
	return nil
}
