package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/rotation"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redirect outcomes, used for metrics and logging.
const (
	OutcomeResolved = "resolved"
	OutcomeNotFound = "not_found"
	OutcomeFallback = "fallback"
)

// ClickSink accepts click events for asynchronous recording. Submit must
// never block the caller.
type ClickSink interface {
	SubmitClick(click *models.ClickEvent) bool
}

// Result is the outcome of resolving one short code.
type Result struct {
	TargetURL string
	Outcome   string
	Strategy  string
	Arm       string
}

// Resolver turns a short code into a redirect target. The whole path is
// fail-open: any internal failure degrades to the originally resolved
// link or to the configured error page, never to a 5xx for the visitor.
type Resolver struct {
	links    storage.LinkRepo
	configs  storage.RotationConfigRepo
	stats    storage.AnalyticsRepo
	selector *rotation.Selector
	sink     ClickSink
	cache    *redis.Client // optional short-code cache
	cacheTTL time.Duration
	rng      rotation.RandomSource
	logger   *zap.Logger

	notFoundURL string
	errorURL    string
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Links       storage.LinkRepo
	Configs     storage.RotationConfigRepo
	Stats       storage.AnalyticsRepo
	Selector    *rotation.Selector
	Sink        ClickSink
	Cache       *redis.Client
	CacheTTL    time.Duration
	Rand        rotation.RandomSource
	Logger      *zap.Logger
	NotFoundURL string
	ErrorURL    string
}

// NewResolver constructs a Resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	return &Resolver{
		links:       opts.Links,
		configs:     opts.Configs,
		stats:       opts.Stats,
		selector:    opts.Selector,
		sink:        opts.Sink,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		rng:         opts.Rand,
		logger:      opts.Logger,
		notFoundURL: opts.NotFoundURL,
		errorURL:    opts.ErrorURL,
	}
}

// Resolve looks up the short code, runs rotation when the product has
// competing links, queues the click for recording and returns the target.
func (r *Resolver) Resolve(ctx context.Context, shortCode string, req RequestInfo) Result {
	link, err := r.lookupLink(ctx, shortCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{TargetURL: r.notFoundURL, Outcome: OutcomeNotFound}
		}
		r.logger.Error("link lookup failed", zap.Error(err), zap.String("short_code", shortCode))
		return Result{TargetURL: r.errorURL, Outcome: OutcomeFallback}
	}
	if !link.IsActive {
		return Result{TargetURL: r.notFoundURL, Outcome: OutcomeNotFound}
	}

	chosen, strategy, arm := r.pick(ctx, link, req.SessionID)

	r.recordClick(chosen, req)

	return Result{
		TargetURL: chosen.OriginalURL,
		Outcome:   OutcomeResolved,
		Strategy:  strategy,
		Arm:       arm,
	}
}

// pick runs the rotation strategy over the product's active links. Every
// failure falls back to the link the short code resolved to.
func (r *Resolver) pick(ctx context.Context, resolved *models.AffiliateLink, sessionID string) (link *models.AffiliateLink, strategy, arm string) {
	candidates, err := r.links.GetActiveByProduct(ctx, resolved.ProductID)
	if err != nil {
		r.logger.Warn("failed to load candidate links, using resolved link",
			zap.Error(err), zap.String("product_id", resolved.ProductID))
		return resolved, "", ""
	}
	if len(candidates) < 2 {
		return resolved, "", rotation.ArmSingle
	}

	cfg, err := r.configs.Get(ctx, resolved.ProductID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("failed to load rotation config, using resolved link",
				zap.Error(err), zap.String("product_id", resolved.ProductID))
		}
		// No rotation configured for this product.
		return resolved, "", ""
	}

	linkIDs := make([]string, len(candidates))
	for i, c := range candidates {
		linkIDs[i] = c.ID
	}
	snapshot, err := r.stats.GetLinkAnalyticsBatch(ctx, linkIDs)
	if err != nil {
		r.logger.Warn("failed to load analytics snapshot, using resolved link", zap.Error(err))
		return resolved, "", ""
	}

	stats := make([]rotation.LinkStats, len(candidates))
	for i, c := range candidates {
		stats[i] = rotation.LinkStats{Link: c, Stats: snapshot[c.ID]}
	}

	decision, err := r.selector.Select(ctx, stats, cfg, sessionID, r.rng)
	if err != nil {
		r.logger.Warn("selection failed, using resolved link",
			zap.Error(err), zap.String("strategy", cfg.Strategy))
		return resolved, "", ""
	}
	return decision.Link, decision.Strategy, decision.Arm
}

func (r *Resolver) recordClick(link *models.AffiliateLink, req RequestInfo) {
	accepted := r.sink.SubmitClick(&models.ClickEvent{
		ID:        uuid.New().String(),
		LinkID:    link.ID,
		ProductID: link.ProductID,
		SessionID: req.SessionID,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Referrer:  req.Referrer,
		Device:    req.Device,
		Browser:   req.Browser,
		OS:        req.OS,
		Timestamp: time.Now().UTC(),
	})
	if !accepted {
		r.logger.Warn("tracking queue full, click dropped", zap.String("link_id", link.ID))
	}
}

// lookupLink reads the short code through the Redis cache when available.
func (r *Resolver) lookupLink(ctx context.Context, shortCode string) (*models.AffiliateLink, error) {
	cacheKey := "link:code:" + shortCode

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var link models.AffiliateLink
			if err := json.Unmarshal(raw, &link); err == nil {
				return &link, nil
			}
		} else if err != redis.Nil {
			r.logger.Debug("link cache read failed", zap.Error(err))
		}
	}

	link, err := r.links.GetByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if raw, err := json.Marshal(link); err == nil {
			if err := r.cache.Set(ctx, cacheKey, raw, r.cacheTTL).Err(); err != nil {
				r.logger.Debug("link cache write failed", zap.Error(err))
			}
		}
	}
	return link, nil
}

// InvalidateCache drops the cached entry for a short code, called after
// link updates so stale targets stop being served within the TTL.
func (r *Resolver) InvalidateCache(ctx context.Context, shortCode string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, "link:code:"+shortCode).Err(); err != nil {
		r.logger.Debug("link cache invalidation failed", zap.Error(err))
	}
}
