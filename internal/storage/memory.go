package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// In-memory repository implementations. Used when PostgreSQL is
// unavailable and throughout the tests. Not durable; counters reset on
// process restart.

// =============================================
// Links
// =============================================

// InMemoryLinkRepo stores affiliate links in memory.
type InMemoryLinkRepo struct {
	mu          sync.RWMutex
	links       map[string]*models.AffiliateLink
	byShortCode map[string]string // shortened_url -> link_id
}

// NewInMemoryLinkRepo creates an empty in-memory link repository.
func NewInMemoryLinkRepo() *InMemoryLinkRepo {
	return &InMemoryLinkRepo{
		links:       make(map[string]*models.AffiliateLink),
		byShortCode: make(map[string]string),
	}
}

func (r *InMemoryLinkRepo) GetByID(ctx context.Context, id string) (*models.AffiliateLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (r *InMemoryLinkRepo) GetByShortCode(ctx context.Context, shortCode string) (*models.AffiliateLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byShortCode[shortCode]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.links[id]
	return &cp, nil
}

func (r *InMemoryLinkRepo) GetActiveByProduct(ctx context.Context, productID string) ([]*models.AffiliateLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.AffiliateLink
	for _, link := range r.links {
		if link.ProductID == productID && link.IsActive {
			cp := *link
			result = append(result, &cp)
		}
	}
	// Highest priority first, id as tie-break for a stable order.
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *InMemoryLinkRepo) Upsert(ctx context.Context, link *models.AffiliateLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.links[link.ID]; ok && old.ShortenedURL != link.ShortenedURL {
		delete(r.byShortCode, old.ShortenedURL)
	}
	cp := *link
	r.links[link.ID] = &cp
	if link.ShortenedURL != "" {
		r.byShortCode[link.ShortenedURL] = link.ID
	}
	return nil
}

func (r *InMemoryLinkRepo) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[id]
	if !ok {
		return ErrNotFound
	}
	link.IsActive = false
	link.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================
// Rotation configs
// =============================================

// InMemoryConfigRepo stores rotation configs in memory.
type InMemoryConfigRepo struct {
	mu      sync.RWMutex
	configs map[string]*models.RotationConfig
}

// NewInMemoryConfigRepo creates an empty in-memory config repository.
func NewInMemoryConfigRepo() *InMemoryConfigRepo {
	return &InMemoryConfigRepo{configs: make(map[string]*models.RotationConfig)}
}

func (r *InMemoryConfigRepo) Get(ctx context.Context, productID string) (*models.RotationConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	if cfg.Weights != nil {
		cp.Weights = make(map[string]float64, len(cfg.Weights))
		for k, v := range cfg.Weights {
			cp.Weights[k] = v
		}
	}
	return &cp, nil
}

func (r *InMemoryConfigRepo) Upsert(ctx context.Context, cfg *models.RotationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *cfg
	if cfg.Weights != nil {
		cp.Weights = make(map[string]float64, len(cfg.Weights))
		for k, v := range cfg.Weights {
			cp.Weights[k] = v
		}
	}
	r.configs[cfg.ProductID] = &cp
	return nil
}

// =============================================
// Events
// =============================================

// InMemoryEventStore stores click and conversion events in memory.
type InMemoryEventStore struct {
	mu          sync.RWMutex
	clicks      map[string]*models.ClickEvent
	conversions map[string]*models.ConversionEvent
	orderIndex  map[string]string // link_id + "\x00" + external_order_id -> conversion_id
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		clicks:      make(map[string]*models.ClickEvent),
		conversions: make(map[string]*models.ConversionEvent),
		orderIndex:  make(map[string]string),
	}
}

func (s *InMemoryEventStore) SaveClick(ctx context.Context, click *models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *click
	s.clicks[click.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetClick(ctx context.Context, id string) (*models.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	click, ok := s.clicks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *click
	return &cp, nil
}

func (s *InMemoryEventStore) LastClick(ctx context.Context, linkID, sessionID string, since time.Time) (*models.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.ClickEvent
	for _, click := range s.clicks {
		if click.LinkID != linkID || click.Timestamp.Before(since) {
			continue
		}
		if sessionID != "" && click.SessionID != sessionID {
			continue
		}
		if best == nil || click.Timestamp.After(best.Timestamp) {
			best = click
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *InMemoryEventStore) ListClicks(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ClickEvent
	for _, click := range s.clicks {
		if inRange(click.Timestamp, from, to) {
			cp := *click
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *InMemoryEventStore) SaveConversion(ctx context.Context, conv *models.ConversionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ExternalOrderID != "" {
		key := conv.LinkID + "\x00" + conv.ExternalOrderID
		if _, exists := s.orderIndex[key]; exists {
			return ErrDuplicateConversion
		}
		s.orderIndex[key] = conv.ID
	}
	cp := *conv
	s.conversions[conv.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetConversion(ctx context.Context, id string) (*models.ConversionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *InMemoryEventStore) UpdateConversionStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversions[id]
	if !ok {
		return ErrNotFound
	}
	if !models.ValidTransition(conv.Status, status) {
		return ErrInvalidTransition
	}
	conv.Status = status
	return nil
}

func (s *InMemoryEventStore) ListConversions(ctx context.Context, from, to time.Time) ([]*models.ConversionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ConversionEvent
	for _, conv := range s.conversions {
		if inRange(conv.Timestamp, from, to) {
			cp := *conv
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================
// Aggregate counters
// =============================================

// InMemoryAnalyticsRepo maintains aggregate counters in memory. Updates
// take the write lock, which preserves the exactly-once increment contract
// under concurrent writers.
type InMemoryAnalyticsRepo struct {
	mu           sync.RWMutex
	linkStats    map[string]*models.LinkAnalytics
	productStats map[string]*models.ProductAnalytics
}

// NewInMemoryAnalyticsRepo creates an empty in-memory analytics repository.
func NewInMemoryAnalyticsRepo() *InMemoryAnalyticsRepo {
	return &InMemoryAnalyticsRepo{
		linkStats:    make(map[string]*models.LinkAnalytics),
		productStats: make(map[string]*models.ProductAnalytics),
	}
}

func (r *InMemoryAnalyticsRepo) IncrementClicks(ctx context.Context, linkID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	la := r.linkStats[linkID]
	if la == nil {
		la = &models.LinkAnalytics{LinkID: linkID}
		r.linkStats[linkID] = la
	}
	la.TotalClicks++
	la.Recompute()
	la.LastUpdated = now

	pa := r.productStats[productID]
	if pa == nil {
		pa = &models.ProductAnalytics{ProductID: productID}
		r.productStats[productID] = pa
	}
	pa.Clicks++
	pa.LastUpdated = now
	return nil
}

func (r *InMemoryAnalyticsRepo) IncrementViews(ctx context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pa := r.productStats[productID]
	if pa == nil {
		pa = &models.ProductAnalytics{ProductID: productID}
		r.productStats[productID] = pa
	}
	pa.Views++
	pa.LastUpdated = time.Now().UTC()
	return nil
}

func (r *InMemoryAnalyticsRepo) ApplyConversion(ctx context.Context, linkID, productID string, revenue float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	la := r.linkStats[linkID]
	if la == nil {
		la = &models.LinkAnalytics{LinkID: linkID}
		r.linkStats[linkID] = la
	}
	la.TotalConversions++
	la.TotalRevenue += revenue
	la.Recompute()
	la.LastUpdated = now

	pa := r.productStats[productID]
	if pa == nil {
		pa = &models.ProductAnalytics{ProductID: productID}
		r.productStats[productID] = pa
	}
	pa.Conversions++
	pa.Revenue += revenue
	pa.LastUpdated = now
	return nil
}

func (r *InMemoryAnalyticsRepo) GetLinkAnalytics(ctx context.Context, linkID string) (*models.LinkAnalytics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	la, ok := r.linkStats[linkID]
	if !ok {
		// Missing counters read as zeros, not as an error.
		return &models.LinkAnalytics{LinkID: linkID}, nil
	}
	cp := *la
	return &cp, nil
}

func (r *InMemoryAnalyticsRepo) GetLinkAnalyticsBatch(ctx context.Context, linkIDs []string) (map[string]*models.LinkAnalytics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*models.LinkAnalytics, len(linkIDs))
	for _, id := range linkIDs {
		if la, ok := r.linkStats[id]; ok {
			cp := *la
			result[id] = &cp
		} else {
			result[id] = &models.LinkAnalytics{LinkID: id}
		}
	}
	return result, nil
}

func (r *InMemoryAnalyticsRepo) GetProductAnalytics(ctx context.Context, productID string) (*models.ProductAnalytics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pa, ok := r.productStats[productID]
	if !ok {
		return &models.ProductAnalytics{ProductID: productID}, nil
	}
	cp := *pa
	return &cp, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
