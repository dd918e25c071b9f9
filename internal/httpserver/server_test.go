package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/config"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{Enabled: false},
		RateLimit: config.RateLimitConfig{
			Enabled: false,
		},
		Metrics: config.MetricsConfig{Enabled: false},
		Tracking: config.TrackingConfig{
			QueueSize:      64,
			Workers:        1,
			MaxRetries:     1,
			RetryBackoff:   time.Millisecond,
			LookbackWindow: 30 * 24 * time.Hour,
			SessionCookie:  "ahub_sid",
		},
		LinkCheck: config.LinkCheckConfig{
			BatchSize:   5,
			Concurrency: 2,
			Timeout:     time.Second,
		},
		Redirect: config.RedirectConfig{
			NotFoundURL: "/link-not-found",
			ErrorURL:    "/link-error",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
	srv.Start(context.Background())
	t.Cleanup(srv.Stop)
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createLink(t *testing.T, h http.Handler, id, productID, code, target string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/links", &models.AffiliateLink{
		ID:           id,
		ProductID:    productID,
		Platform:     "amazon",
		OriginalURL:  target,
		ShortenedURL: code,
		Commission:   0.05,
		Priority:     1,
		IsActive:     true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRedirectResolvesAndSetsSessionCookie(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	req := httptest.NewRequest(http.MethodGet, "/l/abc123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://merchant.example/item", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "ahub_sid", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestRedirectUnknownCode(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec := doJSON(t, h, http.MethodGet, "/l/missing", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/link-not-found", rec.Header().Get("Location"))
}

func TestRedirectDeactivatedLink(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	rec := doJSON(t, h, http.MethodDelete, "/links/l1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/l/abc123", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/link-not-found", rec.Header().Get("Location"))
}

func TestRotationConfigValidation(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec := doJSON(t, h, http.MethodPost, "/links/rotation", map[string]interface{}{
		"product_id":    "p1",
		"strategy":      "alphabetical",
		"traffic_split": 2.0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "strategy")
	assert.Contains(t, body.Fields, "traffic_split")
}

func TestRotationConfigRoundTrip(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec := doJSON(t, h, http.MethodPost, "/links/rotation", &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyWeighted,
		Weights:      map[string]float64{"l1": 0.7, "l2": 0.3},
		TrafficSplit: 1.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/links/rotation?productId=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Config models.RotationConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StrategyWeighted, status.Config.Strategy)
	assert.InDelta(t, 0.7, status.Config.Weights["l1"], 1e-9)

	rec = doJSON(t, h, http.MethodGet, "/links/rotation?productId=unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRotationStatusListsLinksWithAnalytics(t *testing.T) {
	srv, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/a")
	createLink(t, h, "l2", "p1", "def456", "https://merchant.example/b")

	rec := doJSON(t, h, http.MethodPost, "/links/rotation", &models.RotationConfig{
		ProductID:    "p1",
		Strategy:     models.StrategyWeighted,
		Weights:      map[string]float64{"l1": 0.6, "l2": 0.4},
		TrafficSplit: 1.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/l/abc123", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	srv.queue.Stop()

	rec = doJSON(t, h, http.MethodGet, "/links/rotation?productId=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status struct {
		ProductID string                `json:"product_id"`
		Config    models.RotationConfig `json:"config"`
		Links     []struct {
			Link      models.AffiliateLink `json:"link"`
			Analytics models.LinkAnalytics `json:"analytics"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "p1", status.ProductID)
	assert.Equal(t, models.StrategyWeighted, status.Config.Strategy)
	require.Len(t, status.Links, 2)

	var clicked int64
	for _, ls := range status.Links {
		require.NotEmpty(t, ls.Link.ID)
		clicked += ls.Analytics.TotalClicks
	}
	assert.Equal(t, int64(1), clicked)
}

func TestConversionIngestionIdempotent(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	payload := map[string]interface{}{
		"link_id":           "l1",
		"order_value":       100.0,
		"currency":          "USD",
		"external_order_id": "ord-42",
	}

	rec := doJSON(t, h, http.MethodPost, "/events/conversion", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first struct {
		Status     string                  `json:"status"`
		Conversion *models.ConversionEvent `json:"conversion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "recorded", first.Status)
	require.NotNil(t, first.Conversion)
	assert.Equal(t, models.ConversionPending, first.Conversion.Status)

	// Same order id again: 200, flagged as duplicate, not double-counted.
	rec = doJSON(t, h, http.MethodPost, "/events/conversion", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "duplicate", second.Status)
}

func TestConversionStatusUpdate(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	rec := doJSON(t, h, http.MethodPost, "/events/conversion", map[string]interface{}{
		"link_id":     "l1",
		"order_value": 10.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		Conversion *models.ConversionEvent `json:"conversion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPut, "/events/conversion", map[string]string{
		"conversion_id": created.Conversion.ID,
		"status":        models.ConversionConfirmed,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// CONFIRMED is terminal.
	rec = doJSON(t, h, http.MethodPut, "/events/conversion", map[string]string{
		"conversion_id": created.Conversion.ID,
		"status":        models.ConversionRejected,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConversionUnknownLink(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec := doJSON(t, h, http.MethodPost, "/events/conversion", map[string]interface{}{
		"link_id":     "ghost",
		"order_value": 10.0,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewEventFeedsFunnel(t *testing.T) {
	srv, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	rec := doJSON(t, h, http.MethodPost, "/events/view?productId=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/l/abc123", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	// Drain the tracking queue so the click is persisted.
	srv.queue.Stop()

	rec = doJSON(t, h, http.MethodPost, "/analytics/funnel", map[string]interface{}{
		"dateRange": map[string]string{},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report struct {
		Steps []struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		} `json:"steps"`
		Bottlenecks []struct {
			Step string `json:"step"`
		} `json:"bottlenecks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Steps, 5)
	assert.Equal(t, int64(1), report.Steps[2].Value, "click step")
	assert.NotEmpty(t, report.Bottlenecks)
}

func TestReportsCSVFormat(t *testing.T) {
	srv, h := newTestServer(t, testConfig())
	createLink(t, h, "l1", "p1", "abc123", "https://merchant.example/item")

	rec := doJSON(t, h, http.MethodGet, "/l/abc123", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	srv.queue.Stop()

	rec = doJSON(t, h, http.MethodPost, "/analytics/reports", map[string]interface{}{
		"reportType": "links",
		"metrics":    []string{"clicks"},
		"format":     "csv",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "key,clicks\nl1,1\n", rec.Body.String())
}

func TestAuthGatesAdminEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret-key",
		SkipPaths: []string{"/health", "/l/", "/events/conversion", "/events/view"},
	}
	_, h := newTestServer(t, cfg)

	// Admin route without a key is rejected.
	rec := doJSON(t, h, http.MethodGet, "/links/rotation?productId=p1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With the key it reaches the handler.
	req := httptest.NewRequest(http.MethodGet, "/links/rotation?productId=p1", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The redirect path stays public.
	rec = doJSON(t, h, http.MethodGet, "/l/anything", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}
