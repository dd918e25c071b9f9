package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/analytics"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/config"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/database"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/geo"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/linkcheck"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/metrics"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/middleware"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/redirect"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/rotation"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/storage"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/tracking"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/warehouse"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server. DB, Redis
// and ClickHouse are optional; missing ones fall back to in-memory or
// disabled components.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wires the rotation, tracking and analytics services behind the
// HTTP surface.
type Server struct {
	links      storage.LinkRepo
	configs    storage.RotationConfigRepo
	analytics  storage.AnalyticsRepo
	resolver   *redirect.Resolver
	recorder   *tracking.ClickRecorder
	attributor *tracking.ConversionAttributor
	aggregator *analytics.Aggregator
	checker    *linkcheck.Checker
	queue      *tracking.Queue
	archiver   *warehouse.Archiver
	geo        geo.Provider
	deps       *Dependencies
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
}

// NewServer constructs the server and all its services. Call Start to
// launch the background workers and Handler for the HTTP handler.
func NewServer(deps *Dependencies) *Server {
	cfg := deps.Config

	var linkRepo storage.LinkRepo
	var configRepo storage.RotationConfigRepo
	var eventStore storage.EventStore
	var analyticsRepo storage.AnalyticsRepo

	if deps.DB != nil {
		linkRepo = storage.NewPostgresLinkRepo(deps.DB.Pool)
		configRepo = storage.NewPostgresConfigRepo(deps.DB.Pool)
		eventStore = storage.NewPostgresEventStore(deps.DB.Pool)
		analyticsRepo = storage.NewPostgresAnalyticsRepo(deps.DB.Pool)
	} else {
		linkRepo = storage.NewInMemoryLinkRepo()
		configRepo = storage.NewInMemoryConfigRepo()
		eventStore = storage.NewInMemoryEventStore()
		analyticsRepo = storage.NewInMemoryAnalyticsRepo()
	}

	var cursor rotation.Cursor
	if deps.Redis != nil {
		cursor = rotation.NewRedisCursor(deps.Redis.Client)
	} else {
		cursor = rotation.NewMemoryCursor()
	}

	var geoProvider geo.Provider
	if cfg.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("geo enrichment disabled", zap.Error(err))
		} else {
			geoProvider = provider
		}
	}

	queue := tracking.NewQueue(tracking.QueueOptions{
		Size:       cfg.Tracking.QueueSize,
		Workers:    cfg.Tracking.Workers,
		MaxRetries: cfg.Tracking.MaxRetries,
		Backoff:    cfg.Tracking.RetryBackoff,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	})
	recorder := tracking.NewClickRecorder(queue, eventStore, analyticsRepo, geoProvider, deps.Metrics, deps.Logger)
	attributor := tracking.NewConversionAttributor(
		eventStore, analyticsRepo, linkRepo, cfg.Tracking.LookbackWindow, deps.Metrics, deps.Logger)

	var archiver *warehouse.Archiver
	if deps.ClickHouse != nil {
		archiver = warehouse.NewArchiver(
			warehouse.NewClickHouseWriter(deps.ClickHouse.Conn),
			cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, deps.Logger)
	}

	var sink redirect.ClickSink = recorder
	if archiver != nil {
		sink = &clickFanout{recorder: recorder, archiver: archiver}
	}

	resolverOpts := redirect.ResolverOptions{
		Links:       linkRepo,
		Configs:     configRepo,
		Stats:       analyticsRepo,
		Selector:    rotation.NewSelector(cursor),
		Sink:        sink,
		CacheTTL:    cfg.Redis.CacheTTL,
		Rand:        rotation.NewLockedRand(time.Now().UnixNano()),
		Logger:      deps.Logger,
		NotFoundURL: cfg.Redirect.NotFoundURL,
		ErrorURL:    cfg.Redirect.ErrorURL,
	}
	if deps.Redis != nil {
		resolverOpts.Cache = deps.Redis.Client
	}

	return &Server{
		links:      linkRepo,
		configs:    configRepo,
		analytics:  analyticsRepo,
		resolver:   redirect.NewResolver(resolverOpts),
		recorder:   recorder,
		attributor: attributor,
		aggregator: analytics.NewAggregator(eventStore, analyticsRepo, deps.Logger),
		checker: linkcheck.NewChecker(
			cfg.LinkCheck.BatchSize, cfg.LinkCheck.Concurrency, cfg.LinkCheck.Timeout,
			deps.Metrics, deps.Logger),
		queue:    queue,
		archiver: archiver,
		geo:      geoProvider,
		deps:     deps,
		logger:   deps.Logger,
		config:   cfg,
		metrics:  deps.Metrics,
	}
}

// Start launches the tracking workers and the warehouse archiver.
func (s *Server) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if s.archiver != nil {
		s.archiver.Start()
	}
}

// Stop drains the background components.
func (s *Server) Stop() {
	s.queue.Stop()
	if s.archiver != nil {
		s.archiver.Stop()
	}
	if s.geo != nil {
		_ = s.geo.Close()
	}
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	// Redirect hot path
	mux.HandleFunc("/l/", s.handleRedirect)

	// Link management, consumed by the external admin flow
	mux.HandleFunc("/links", s.handleLinks)
	mux.HandleFunc("/links/", s.handleLinkByID)

	// Rotation configuration
	mux.HandleFunc("/links/rotation", s.handleRotationConfig)

	// Link health
	mux.HandleFunc("/links/check", s.handleLinkCheck)

	// Analytics
	mux.HandleFunc("/analytics/funnel", s.handleFunnel)
	mux.HandleFunc("/analytics/reports", s.handleReports)

	// Events
	mux.HandleFunc("/events/conversion", s.handleConversion)
	mux.HandleFunc("/events/view", s.handleView)

	auth := middleware.NewAuthMiddleware(s.config.Auth, s.logger)
	rateLimit := middleware.NewRateLimitMiddleware(s.config.RateLimit, s.logger)
	rateLimit.SetMetrics(s.metrics)
	logging := middleware.NewLoggingMiddleware(s.logger)
	recovery := middleware.NewRecoveryMiddleware(s.logger)

	var h http.Handler = mux
	h = auth.Handler(h)
	h = rateLimit.Handler(h)
	h = logging.Handler(h)
	h = recovery.Handler(h)
	return h
}

// clickFanout feeds clicks to both the recorder and the warehouse.
type clickFanout struct {
	recorder *tracking.ClickRecorder
	archiver *warehouse.Archiver
}

func (f *clickFanout) SubmitClick(click *models.ClickEvent) bool {
	f.archiver.ArchiveClick(click)
	return f.recorder.SubmitClick(click)
}

// ---- Health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	check := func(name string, probe func(context.Context) error) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := probe(ctx); err != nil {
			components[name] = "unavailable"
			status = "degraded"
		} else {
			components[name] = "ok"
		}
	}
	if s.deps.DB != nil {
		check("postgres", s.deps.DB.Health)
	}
	if s.deps.Redis != nil {
		check("redis", s.deps.Redis.Health)
	}
	if s.deps.ClickHouse != nil {
		check("clickhouse", s.deps.ClickHouse.Health)
	}

	s.jsonResponse(w, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// ---- Redirect ----

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	shortCode := strings.TrimPrefix(r.URL.Path, "/l/")
	if shortCode == "" || strings.Contains(shortCode, "/") {
		http.Redirect(w, r, s.config.Redirect.NotFoundURL, http.StatusFound)
		return
	}

	start := time.Now()
	info := redirect.ParseRequest(r, s.config.Tracking.SessionCookie)
	if info.NewSession {
		http.SetCookie(w, &http.Cookie{
			Name:     s.config.Tracking.SessionCookie,
			Value:    info.SessionID,
			Path:     "/",
			MaxAge:   int((365 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	result := s.resolver.Resolve(r.Context(), shortCode, info)

	if s.metrics != nil {
		s.metrics.RecordRedirect(result.Outcome, time.Since(start))
		if result.Arm != "" {
			s.metrics.RecordRotationDecision(result.Strategy, result.Arm)
		}
	}

	http.Redirect(w, r, result.TargetURL, http.StatusFound)
}

// ---- Link management ----

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var link models.AffiliateLink
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := link.Validate(); err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	if err := s.links.Upsert(r.Context(), &link); err != nil {
		s.logger.Error("failed to save link", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if link.ShortenedURL != "" {
		s.resolver.InvalidateCache(r.Context(), link.ShortenedURL)
	}
	s.jsonResponse(w, &link)
}

func (s *Server) handleLinkByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/links/")
	if id == "" || strings.Contains(id, "/") {
		s.errorResponse(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		link, err := s.links.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.errorResponse(w, "link not found", http.StatusNotFound)
				return
			}
			s.logger.Error("failed to load link", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, link)

	case http.MethodDelete:
		// Links with history are deactivated, never hard-deleted.
		link, err := s.links.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.errorResponse(w, "link not found", http.StatusNotFound)
				return
			}
			s.logger.Error("failed to load link", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := s.links.Deactivate(r.Context(), id); err != nil {
			s.logger.Error("failed to deactivate link", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		if link.ShortenedURL != "" {
			s.resolver.InvalidateCache(r.Context(), link.ShortenedURL)
		}
		s.jsonResponse(w, map[string]string{"status": "deactivated"})

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Rotation config ----

func (s *Server) handleRotationConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var cfg models.RotationConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if errs := cfg.Validate(); errs != nil {
			s.validationErrors(w, errs)
			return
		}
		cfg.UpdatedAt = time.Now().UTC()
		if err := s.configs.Upsert(r.Context(), &cfg); err != nil {
			s.logger.Error("failed to save rotation config", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, &cfg)

	case http.MethodGet:
		productID := r.URL.Query().Get("productId")
		if productID == "" {
			s.errorResponse(w, "productId is required", http.StatusBadRequest)
			return
		}
		s.rotationStatus(w, r, productID)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// rotationLinkStatus pairs one active link with its analytics snapshot.
type rotationLinkStatus struct {
	Link      *models.AffiliateLink `json:"link"`
	Analytics *models.LinkAnalytics `json:"analytics"`
}

// rotationStatus returns the product's active link set with per-link
// analytics plus the stored config, the view behind the rotation admin
// screen.
func (s *Server) rotationStatus(w http.ResponseWriter, r *http.Request, productID string) {
	cfg, err := s.configs.Get(r.Context(), productID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("failed to load rotation config", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		cfg = nil
	}

	links, err := s.links.GetActiveByProduct(r.Context(), productID)
	if err != nil {
		s.logger.Error("failed to load product links", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cfg == nil && len(links) == 0 {
		s.errorResponse(w, "no rotation state for product", http.StatusNotFound)
		return
	}

	linkIDs := make([]string, len(links))
	for i, l := range links {
		linkIDs[i] = l.ID
	}
	snapshot, err := s.analytics.GetLinkAnalyticsBatch(r.Context(), linkIDs)
	if err != nil {
		s.logger.Error("failed to load link analytics", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	statuses := make([]rotationLinkStatus, len(links))
	for i, l := range links {
		stats := snapshot[l.ID]
		if stats == nil {
			stats = &models.LinkAnalytics{LinkID: l.ID}
		}
		statuses[i] = rotationLinkStatus{Link: l, Analytics: stats}
	}

	s.jsonResponse(w, struct {
		ProductID string                 `json:"product_id"`
		Config    *models.RotationConfig `json:"config,omitempty"`
		Links     []rotationLinkStatus   `json:"links"`
	}{
		ProductID: productID,
		Config:    cfg,
		Links:     statuses,
	})
}

// ---- Link health ----

func (s *Server) handleLinkCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		s.errorResponse(w, "product_id is required", http.StatusBadRequest)
		return
	}

	links, err := s.links.GetActiveByProduct(r.Context(), req.ProductID)
	if err != nil {
		s.logger.Error("failed to load links for check", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(links) == 0 {
		s.errorResponse(w, "no active links for product", http.StatusNotFound)
		return
	}

	results := s.checker.CheckLinks(r.Context(), links)
	s.jsonResponse(w, map[string]interface{}{
		"product_id": req.ProductID,
		"results":    results,
	})
}

// ---- Analytics ----

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		DateRange analytics.DateRange `json:"dateRange"`
		Segment   string              `json:"segment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	report, err := s.aggregator.Funnel(r.Context(), req.DateRange, req.Segment)
	if err != nil {
		s.logger.Error("funnel computation failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analytics.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	report, err := s.aggregator.Report(r.Context(), req)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Format == analytics.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
		if err := report.WriteCSV(w); err != nil {
			s.logger.Error("csv write failed", zap.Error(err))
		}
		return
	}
	s.jsonResponse(w, report)
}

// ---- Events ----

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleConversionCreate(w, r)
	case http.MethodPut:
		s.handleConversionStatus(w, r)
	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConversionCreate(w http.ResponseWriter, r *http.Request) {
	var sig tracking.ConversionSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if errs := sig.Validate(); errs != nil {
		s.validationErrors(w, errs)
		return
	}

	conv, err := s.attributor.Attribute(r.Context(), &sig)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateConversion):
			// Idempotent: re-submission of a known order is not an error.
			s.jsonResponse(w, map[string]string{"status": "duplicate"})
		case errors.Is(err, storage.ErrNotFound):
			s.errorResponse(w, "link or click not found", http.StatusNotFound)
		default:
			s.logger.Error("conversion ingestion failed", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if s.archiver != nil {
		s.archiver.ArchiveConversion(conv)
	}
	s.jsonResponse(w, map[string]interface{}{
		"status":     "recorded",
		"conversion": conv,
	})
}

func (s *Server) handleConversionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversionID string `json:"conversion_id"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ConversionID == "" || req.Status == "" {
		s.errorResponse(w, "conversion_id and status are required", http.StatusBadRequest)
		return
	}

	err := s.attributor.UpdateStatus(r.Context(), req.ConversionID, req.Status)
	switch {
	case err == nil:
		s.jsonResponse(w, map[string]string{"status": "updated"})
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, "conversion not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidTransition):
		s.errorResponse(w, "invalid status transition", http.StatusConflict)
	default:
		s.logger.Error("conversion status update failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	productID := r.URL.Query().Get("productId")
	if productID == "" {
		var req struct {
			ProductID string `json:"product_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			productID = req.ProductID
		}
	}
	if productID == "" {
		s.errorResponse(w, "productId is required", http.StatusBadRequest)
		return
	}

	if err := s.analytics.IncrementViews(r.Context(), productID); err != nil {
		s.logger.Error("failed to record view", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "recorded"})
}

// ---- Response helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) validationErrors(w http.ResponseWriter, errs models.FieldErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "validation failed",
		"fields": errs,
	})
}
