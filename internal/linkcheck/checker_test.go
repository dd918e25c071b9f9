package linkcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckLinksClassifiesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	checker := NewChecker(10, 2, 100*time.Millisecond, nil, zap.NewNop())
	links := []*models.AffiliateLink{
		{ID: "l1", OriginalURL: srv.URL + "/ok"},
		{ID: "l2", OriginalURL: srv.URL + "/gone"},
		{ID: "l3", OriginalURL: srv.URL + "/slow"},
	}

	results := checker.CheckLinks(context.Background(), links)
	require.Len(t, results, 3)

	assert.Equal(t, ResultOK, results[0].Status)
	assert.Equal(t, http.StatusOK, results[0].HTTPStatus)

	assert.Equal(t, ResultBroken, results[1].Status)
	assert.Equal(t, http.StatusNotFound, results[1].HTTPStatus)

	assert.Equal(t, ResultTimeout, results[2].Status)
	assert.NotEmpty(t, results[2].Error)
}

func TestCheckLinksKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(2, 3, time.Second, nil, zap.NewNop())
	var links []*models.AffiliateLink
	for i := 0; i < 7; i++ {
		links = append(links, &models.AffiliateLink{ID: string(rune('a' + i)), OriginalURL: srv.URL})
	}

	results := checker.CheckLinks(context.Background(), links)
	require.Len(t, results, 7)
	for i, r := range results {
		assert.Equal(t, links[i].ID, r.LinkID)
		assert.Equal(t, ResultOK, r.Status)
	}
}

func TestCheckLinksRejectsMalformedURL(t *testing.T) {
	checker := NewChecker(5, 1, time.Second, nil, zap.NewNop())
	results := checker.CheckLinks(context.Background(), []*models.AffiliateLink{
		{ID: "l1", OriginalURL: "://not-a-url"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, ResultBroken, results[0].Status)
}
