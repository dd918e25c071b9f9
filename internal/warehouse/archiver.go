package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
	"go.uber.org/zap"
)

// flushTimeout bounds a single warehouse write.
const flushTimeout = 30 * time.Second

// Writer persists event batches to the warehouse.
type Writer interface {
	WriteClicks(ctx context.Context, clicks []*models.ClickEvent) error
	WriteConversions(ctx context.Context, conversions []*models.ConversionEvent) error
}

// Archiver consumes the click and conversion streams and batch-writes
// them to the warehouse for offline reporting. Entirely best-effort: a
// full buffer or a failed flush drops events with a log line and never
// touches the serving path.
type Archiver struct {
	clicks        chan *models.ClickEvent
	conversions   chan *models.ConversionEvent
	batchSize     int
	flushInterval time.Duration
	writer        Writer
	logger        *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	clickBatch []*models.ClickEvent
	convBatch  []*models.ConversionEvent
}

// NewArchiver creates an archiver; call Start to launch the worker.
func NewArchiver(writer Writer, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Archiver {
	return &Archiver{
		clicks:        make(chan *models.ClickEvent, batchSize*4),
		conversions:   make(chan *models.ConversionEvent, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		writer:        writer,
		logger:        logger,
		clickBatch:    make([]*models.ClickEvent, 0, batchSize),
		convBatch:     make([]*models.ConversionEvent, 0, batchSize),
	}
}

// Start launches the background flush worker.
func (a *Archiver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go a.worker(ctx)
	a.logger.Info("warehouse archiver started",
		zap.Int("batch_size", a.batchSize),
		zap.Duration("flush_interval", a.flushInterval))
}

// Stop flushes pending batches and stops the worker.
func (a *Archiver) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	a.logger.Info("warehouse archiver stopped")
}

// ArchiveClick enqueues a click for archival. Non-blocking; returns false
// when the buffer is full and the event was dropped.
func (a *Archiver) ArchiveClick(click *models.ClickEvent) bool {
	select {
	case a.clicks <- click:
		return true
	default:
		a.logger.Warn("warehouse click buffer full, event dropped")
		return false
	}
}

// ArchiveConversion enqueues a conversion for archival.
func (a *Archiver) ArchiveConversion(conv *models.ConversionEvent) bool {
	select {
	case a.conversions <- conv:
		return true
	default:
		a.logger.Warn("warehouse conversion buffer full, event dropped")
		return false
	}
}

func (a *Archiver) worker(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drain()
			a.flush()
			return
		case click := <-a.clicks:
			a.clickBatch = append(a.clickBatch, click)
			if len(a.clickBatch) >= a.batchSize {
				a.flushClicks()
			}
		case conv := <-a.conversions:
			a.convBatch = append(a.convBatch, conv)
			if len(a.convBatch) >= a.batchSize {
				a.flushConversions()
			}
		case <-ticker.C:
			a.flush()
		}
	}
}

// drain empties the channels into the pending batches during shutdown.
func (a *Archiver) drain() {
	for {
		select {
		case click := <-a.clicks:
			a.clickBatch = append(a.clickBatch, click)
		case conv := <-a.conversions:
			a.convBatch = append(a.convBatch, conv)
		default:
			return
		}
	}
}

func (a *Archiver) flush() {
	a.flushClicks()
	a.flushConversions()
}

func (a *Archiver) flushClicks() {
	if len(a.clickBatch) == 0 {
		return
	}
	batch := a.clickBatch
	a.clickBatch = make([]*models.ClickEvent, 0, a.batchSize)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.writer.WriteClicks(ctx, batch); err != nil {
		a.logger.Error("warehouse click flush failed, batch dropped",
			zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	a.logger.Debug("warehouse click batch flushed", zap.Int("events", len(batch)))
}

func (a *Archiver) flushConversions() {
	if len(a.convBatch) == 0 {
		return
	}
	batch := a.convBatch
	a.convBatch = make([]*models.ConversionEvent, 0, a.batchSize)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.writer.WriteConversions(ctx, batch); err != nil {
		a.logger.Error("warehouse conversion flush failed, batch dropped",
			zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	a.logger.Debug("warehouse conversion batch flushed", zap.Int("events", len(batch)))
}
