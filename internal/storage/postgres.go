package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// PostgresLinkRepo implements LinkRepo using PostgreSQL.
type PostgresLinkRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkRepo(pool *pgxpool.Pool) *PostgresLinkRepo {
	return &PostgresLinkRepo{pool: pool}
}

const linkColumns = `id, product_id, platform, original_url, shortened_url, commission, priority, is_active, created_at, updated_at`

func scanLink(row pgx.Row) (*models.AffiliateLink, error) {
	var l models.AffiliateLink
	err := row.Scan(&l.ID, &l.ProductID, &l.Platform, &l.OriginalURL, &l.ShortenedURL,
		&l.Commission, &l.Priority, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	return &l, nil
}

func (r *PostgresLinkRepo) GetByID(ctx context.Context, id string) (*models.AffiliateLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM affiliate_links WHERE id = $1
	`, id))
}

func (r *PostgresLinkRepo) GetByShortCode(ctx context.Context, shortCode string) (*models.AffiliateLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM affiliate_links WHERE shortened_url = $1
	`, shortCode))
}

func (r *PostgresLinkRepo) GetActiveByProduct(ctx context.Context, productID string) ([]*models.AffiliateLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+linkColumns+` FROM affiliate_links
		WHERE product_id = $1 AND is_active
		ORDER BY priority DESC, id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active links: %w", err)
	}
	defer rows.Close()

	var links []*models.AffiliateLink
	for rows.Next() {
		var l models.AffiliateLink
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Platform, &l.OriginalURL, &l.ShortenedURL,
			&l.Commission, &l.Priority, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func (r *PostgresLinkRepo) Upsert(ctx context.Context, link *models.AffiliateLink) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO affiliate_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			platform = EXCLUDED.platform,
			original_url = EXCLUDED.original_url,
			shortened_url = EXCLUDED.shortened_url,
			commission = EXCLUDED.commission,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`, link.ID, link.ProductID, link.Platform, link.OriginalURL, link.ShortenedURL,
		link.Commission, link.Priority, link.IsActive, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

func (r *PostgresLinkRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE affiliate_links SET is_active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresConfigRepo implements RotationConfigRepo using PostgreSQL.
type PostgresConfigRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresConfigRepo(pool *pgxpool.Pool) *PostgresConfigRepo {
	return &PostgresConfigRepo{pool: pool}
}

func (r *PostgresConfigRepo) Get(ctx context.Context, productID string) (*models.RotationConfig, error) {
	var cfg models.RotationConfig
	var weightsJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT product_id, strategy, weights, traffic_split, test_duration, updated_at
		FROM rotation_configs WHERE product_id = $1
	`, productID).Scan(&cfg.ProductID, &cfg.Strategy, &weightsJSON, &cfg.TrafficSplit, &cfg.TestDuration, &cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation config: %w", err)
	}

	if len(weightsJSON) > 0 {
		if err := json.Unmarshal(weightsJSON, &cfg.Weights); err != nil {
			return nil, fmt.Errorf("failed to parse weights: %w", err)
		}
	}
	return &cfg, nil
}

func (r *PostgresConfigRepo) Upsert(ctx context.Context, cfg *models.RotationConfig) error {
	weightsJSON, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rotation_configs (product_id, strategy, weights, traffic_split, test_duration, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id) DO UPDATE SET
			strategy = EXCLUDED.strategy,
			weights = EXCLUDED.weights,
			traffic_split = EXCLUDED.traffic_split,
			test_duration = EXCLUDED.test_duration,
			updated_at = EXCLUDED.updated_at
	`, cfg.ProductID, cfg.Strategy, weightsJSON, cfg.TrafficSplit, cfg.TestDuration, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rotation config: %w", err)
	}
	return nil
}

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

const clickColumns = `id, link_id, product_id, session_id, ip_address, user_agent, referrer, device, browser, os, geo_country, geo_region, geo_city, timestamp`

func (s *PostgresEventStore) SaveClick(ctx context.Context, click *models.ClickEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO click_events (`+clickColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, click.ID, click.LinkID, click.ProductID, click.SessionID, click.IPAddress, click.UserAgent,
		click.Referrer, click.Device, click.Browser, click.OS,
		click.GeoCountry, click.GeoRegion, click.GeoCity, click.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func scanClick(row pgx.Row) (*models.ClickEvent, error) {
	var c models.ClickEvent
	err := row.Scan(&c.ID, &c.LinkID, &c.ProductID, &c.SessionID, &c.IPAddress, &c.UserAgent,
		&c.Referrer, &c.Device, &c.Browser, &c.OS,
		&c.GeoCountry, &c.GeoRegion, &c.GeoCity, &c.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan click: %w", err)
	}
	return &c, nil
}

func (s *PostgresEventStore) GetClick(ctx context.Context, id string) (*models.ClickEvent, error) {
	return scanClick(s.pool.QueryRow(ctx, `
		SELECT `+clickColumns+` FROM click_events WHERE id = $1
	`, id))
}

func (s *PostgresEventStore) LastClick(ctx context.Context, linkID, sessionID string, since time.Time) (*models.ClickEvent, error) {
	if sessionID != "" {
		return scanClick(s.pool.QueryRow(ctx, `
			SELECT `+clickColumns+` FROM click_events
			WHERE link_id = $1 AND session_id = $2 AND timestamp >= $3
			ORDER BY timestamp DESC LIMIT 1
		`, linkID, sessionID, since))
	}
	return scanClick(s.pool.QueryRow(ctx, `
		SELECT `+clickColumns+` FROM click_events
		WHERE link_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC LIMIT 1
	`, linkID, since))
}

func (s *PostgresEventStore) ListClicks(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+clickColumns+` FROM click_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list clicks: %w", err)
	}
	defer rows.Close()

	var clicks []*models.ClickEvent
	for rows.Next() {
		var c models.ClickEvent
		if err := rows.Scan(&c.ID, &c.LinkID, &c.ProductID, &c.SessionID, &c.IPAddress, &c.UserAgent,
			&c.Referrer, &c.Device, &c.Browser, &c.OS,
			&c.GeoCountry, &c.GeoRegion, &c.GeoCity, &c.Timestamp); err != nil {
			return nil, err
		}
		clicks = append(clicks, &c)
	}
	return clicks, rows.Err()
}

const conversionColumns = `id, link_id, click_id, product_id, order_value, commission, currency, status, external_order_id, timestamp`

func (s *PostgresEventStore) SaveConversion(ctx context.Context, conv *models.ConversionEvent) error {
	// The partial unique index on (link_id, external_order_id) enforces
	// idempotency for signals that carry an external order id; zero rows
	// affected means a duplicate submission.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversion_events (`+conversionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (link_id, external_order_id) WHERE external_order_id <> '' DO NOTHING
	`, conv.ID, conv.LinkID, conv.ClickID, conv.ProductID, conv.OrderValue, conv.Commission,
		conv.Currency, conv.Status, conv.ExternalOrderID, conv.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save conversion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateConversion
	}
	return nil
}

func (s *PostgresEventStore) GetConversion(ctx context.Context, id string) (*models.ConversionEvent, error) {
	var c models.ConversionEvent
	err := s.pool.QueryRow(ctx, `
		SELECT `+conversionColumns+` FROM conversion_events WHERE id = $1
	`, id).Scan(&c.ID, &c.LinkID, &c.ClickID, &c.ProductID, &c.OrderValue, &c.Commission,
		&c.Currency, &c.Status, &c.ExternalOrderID, &c.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	return &c, nil
}

func (s *PostgresEventStore) UpdateConversionStatus(ctx context.Context, id, status string) error {
	// Transition is only legal out of PENDING.
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversion_events SET status = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update conversion status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversion_events WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check conversion: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresEventStore) ListConversions(ctx context.Context, from, to time.Time) ([]*models.ConversionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversionColumns+` FROM conversion_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*models.ConversionEvent
	for rows.Next() {
		var c models.ConversionEvent
		if err := rows.Scan(&c.ID, &c.LinkID, &c.ClickID, &c.ProductID, &c.OrderValue, &c.Commission,
			&c.Currency, &c.Status, &c.ExternalOrderID, &c.Timestamp); err != nil {
			return nil, err
		}
		conversions = append(conversions, &c)
	}
	return conversions, rows.Err()
}

// PostgresAnalyticsRepo implements AnalyticsRepo using PostgreSQL. Every
// counter mutation is a single upsert-increment statement so concurrent
// writers never lose updates.
type PostgresAnalyticsRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAnalyticsRepo(pool *pgxpool.Pool) *PostgresAnalyticsRepo {
	return &PostgresAnalyticsRepo{pool: pool}
}

func (r *PostgresAnalyticsRepo) IncrementClicks(ctx context.Context, linkID, productID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_analytics (link_id, total_clicks, total_conversions, total_revenue, conversion_rate, average_order_value, last_updated)
		VALUES ($1, 1, 0, 0, 0, 0, now())
		ON CONFLICT (link_id) DO UPDATE SET
			total_clicks = link_analytics.total_clicks + 1,
			conversion_rate = link_analytics.total_conversions::double precision / (link_analytics.total_clicks + 1) * 100,
			last_updated = now()
	`, linkID)
	if err != nil {
		return fmt.Errorf("failed to increment link clicks: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO product_analytics (product_id, views, clicks, conversions, revenue, last_updated)
		VALUES ($1, 0, 1, 0, 0, now())
		ON CONFLICT (product_id) DO UPDATE SET
			clicks = product_analytics.clicks + 1,
			last_updated = now()
	`, productID)
	if err != nil {
		return fmt.Errorf("failed to increment product clicks: %w", err)
	}
	return nil
}

func (r *PostgresAnalyticsRepo) IncrementViews(ctx context.Context, productID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO product_analytics (product_id, views, clicks, conversions, revenue, last_updated)
		VALUES ($1, 1, 0, 0, 0, now())
		ON CONFLICT (product_id) DO UPDATE SET
			views = product_analytics.views + 1,
			last_updated = now()
	`, productID)
	if err != nil {
		return fmt.Errorf("failed to increment product views: %w", err)
	}
	return nil
}

func (r *PostgresAnalyticsRepo) ApplyConversion(ctx context.Context, linkID, productID string, revenue float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_analytics (link_id, total_clicks, total_conversions, total_revenue, conversion_rate, average_order_value, last_updated)
		VALUES ($1, 0, 1, $2, 0, $2, now())
		ON CONFLICT (link_id) DO UPDATE SET
			total_conversions = link_analytics.total_conversions + 1,
			total_revenue = link_analytics.total_revenue + $2,
			conversion_rate = CASE WHEN link_analytics.total_clicks > 0
				THEN (link_analytics.total_conversions + 1)::double precision / link_analytics.total_clicks * 100
				ELSE 0 END,
			average_order_value = (link_analytics.total_revenue + $2) / (link_analytics.total_conversions + 1),
			last_updated = now()
	`, linkID, revenue)
	if err != nil {
		return fmt.Errorf("failed to apply conversion to link analytics: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO product_analytics (product_id, views, clicks, conversions, revenue, last_updated)
		VALUES ($1, 0, 0, 1, $2, now())
		ON CONFLICT (product_id) DO UPDATE SET
			conversions = product_analytics.conversions + 1,
			revenue = product_analytics.revenue + $2,
			last_updated = now()
	`, productID, revenue)
	if err != nil {
		return fmt.Errorf("failed to apply conversion to product analytics: %w", err)
	}
	return nil
}

func (r *PostgresAnalyticsRepo) GetLinkAnalytics(ctx context.Context, linkID string) (*models.LinkAnalytics, error) {
	var la models.LinkAnalytics
	err := r.pool.QueryRow(ctx, `
		SELECT link_id, total_clicks, total_conversions, total_revenue, conversion_rate, average_order_value, last_updated
		FROM link_analytics WHERE link_id = $1
	`, linkID).Scan(&la.LinkID, &la.TotalClicks, &la.TotalConversions, &la.TotalRevenue,
		&la.ConversionRate, &la.AverageOrderValue, &la.LastUpdated)
	if err == pgx.ErrNoRows {
		return &models.LinkAnalytics{LinkID: linkID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link analytics: %w", err)
	}
	return &la, nil
}

func (r *PostgresAnalyticsRepo) GetLinkAnalyticsBatch(ctx context.Context, linkIDs []string) (map[string]*models.LinkAnalytics, error) {
	result := make(map[string]*models.LinkAnalytics, len(linkIDs))
	for _, id := range linkIDs {
		result[id] = &models.LinkAnalytics{LinkID: id}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT link_id, total_clicks, total_conversions, total_revenue, conversion_rate, average_order_value, last_updated
		FROM link_analytics WHERE link_id = ANY($1)
	`, linkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get link analytics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var la models.LinkAnalytics
		if err := rows.Scan(&la.LinkID, &la.TotalClicks, &la.TotalConversions, &la.TotalRevenue,
			&la.ConversionRate, &la.AverageOrderValue, &la.LastUpdated); err != nil {
			return nil, err
		}
		result[la.LinkID] = &la
	}
	return result, rows.Err()
}

func (r *PostgresAnalyticsRepo) GetProductAnalytics(ctx context.Context, productID string) (*models.ProductAnalytics, error) {
	var pa models.ProductAnalytics
	err := r.pool.QueryRow(ctx, `
		SELECT product_id, views, clicks, conversions, revenue, last_updated
		FROM product_analytics WHERE product_id = $1
	`, productID).Scan(&pa.ProductID, &pa.Views, &pa.Clicks, &pa.Conversions, &pa.Revenue, &pa.LastUpdated)
	if err == pgx.ErrNoRows {
		return &models.ProductAnalytics{ProductID: productID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product analytics: %w", err)
	}
	return &pa, nil
}
