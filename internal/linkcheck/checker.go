package linkcheck

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/metrics"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"go.uber.org/zap"
)

// Probe results.
const (
	ResultOK      = "ok"
	ResultBroken  = "broken"
	ResultTimeout = "timeout"
)

// Result is the outcome of probing one link.
type Result struct {
	LinkID     string        `json:"link_id"`
	URL        string        `json:"url"`
	Status     string        `json:"status"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
}

// Checker probes outbound affiliate URLs in fixed-size batches, with
// bounded concurrency inside each batch so merchant sites are not
// hammered. A timeout counts as a failure result and is not retried.
type Checker struct {
	client      *http.Client
	batchSize   int
	concurrency int
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewChecker creates a checker. The HTTP client is shared across probes;
// per-probe deadlines come from the configured timeout.
func NewChecker(batchSize, concurrency int, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Checker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Checker{
		client:      &http.Client{Timeout: timeout},
		batchSize:   batchSize,
		concurrency: concurrency,
		timeout:     timeout,
		metrics:     m,
		logger:      logger,
	}
}

// CheckLinks probes every link and returns one result per link, in input
// order. Batches run sequentially; links inside a batch run with bounded
// concurrency.
func (c *Checker) CheckLinks(ctx context.Context, links []*models.AffiliateLink) []Result {
	results := make([]Result, len(links))

	for start := 0; start < len(links); start += c.batchSize {
		end := start + c.batchSize
		if end > len(links) {
			end = len(links)
		}
		c.checkBatch(ctx, links[start:end], results[start:end])

		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (c *Checker) checkBatch(ctx context.Context, links []*models.AffiliateLink, results []Result) {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, link := range links {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, link *models.AffiliateLink) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.probe(ctx, link)
		}(i, link)
	}
	wg.Wait()
}

func (c *Checker) probe(ctx context.Context, link *models.AffiliateLink) Result {
	result := Result{LinkID: link.ID, URL: link.OriginalURL}
	start := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, link.OriginalURL, nil)
	if err != nil {
		result.Status = ResultBroken
		result.Error = err.Error()
		c.record(result)
		return result
	}

	resp, err := c.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		if isTimeout(err) || errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			result.Status = ResultTimeout
		} else {
			result.Status = ResultBroken
		}
		result.Error = err.Error()
		c.record(result)
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 400 {
		result.Status = ResultBroken
	} else {
		result.Status = ResultOK
	}
	c.record(result)
	return result
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Checker) record(r Result) {
	if c.metrics != nil {
		c.metrics.RecordLinkCheck(r.Status)
	}
	if r.Status != ResultOK {
		c.logger.Warn("link check failed",
			zap.String("link_id", r.LinkID),
			zap.String("status", r.Status),
			zap.Int("http_status", r.HTTPStatus),
			zap.String("error", r.Error))
	}
}
