package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/observability"
)

// JournalBatch is one journal stage flush handed to the worker. The hand-off
// is non-blocking: the pipeline never stalls on Postgres, a full channel
// drops the batch and counts it.
type JournalBatch struct {
	Liquidations []LiquidationRow
	OrderBooks   []OrderBookRow
}

// Worker drains journal batches and risk reports and batch-writes them to
// Postgres, flushing when the batch fills or the flush timeout expires.
type Worker struct {
	writer       *JournalWriter
	journalChan  <-chan JournalBatch
	reportChan   <-chan ReportRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	journalChan <-chan JournalBatch,
	reportChan <-chan ReportRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewJournalWriter(db),
		journalChan:  journalChan,
		reportChan:   reportChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log.With().Str("component", "persistence_worker").Logger(),
	}
}

// Run consumes until ctx is cancelled or both channels close, flushing the
// remainder on the way out.
func (w *Worker) Run(ctx context.Context) error {
	liqs := make([]LiquidationRow, 0, w.batchSize)
	books := make([]OrderBookRow, 0, w.batchSize)
	reports := make([]ReportRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		w.flush(ctx, liqs, books, reports)
		liqs = liqs[:0]
		books = books[:0]
		reports = reports[:0]
	}

	journalChan := w.journalChan
	reportChan := w.reportChan

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case batch, ok := <-journalChan:
			if !ok {
				journalChan = nil
				if reportChan == nil {
					flush(context.Background())
					return nil
				}
				continue
			}
			liqs = append(liqs, batch.Liquidations...)
			books = append(books, batch.OrderBooks...)
			if len(liqs)+len(books) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case row, ok := <-reportChan:
			if !ok {
				reportChan = nil
				if journalChan == nil {
					flush(context.Background())
					return nil
				}
				continue
			}
			reports = append(reports, row)
			if len(reports) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) flush(ctx context.Context, liqs []LiquidationRow, books []OrderBookRow, reports []ReportRow) {
	total := len(liqs) + len(books) + len(reports)
	if total == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.writer.WriteLiquidationBatch(ctx, liqs); err != nil {
		w.metrics.JournalWriteErrors.Inc()
		w.log.Error().Err(err).Int("rows", len(liqs)).Msg("liquidation batch write failed")
	}
	if err := w.writer.WriteOrderBookBatch(ctx, books); err != nil {
		w.metrics.JournalWriteErrors.Inc()
		w.log.Error().Err(err).Int("rows", len(books)).Msg("orderbook batch write failed")
	}
	if err := w.writer.WriteReportBatch(ctx, reports); err != nil {
		w.metrics.JournalWriteErrors.Inc()
		w.log.Error().Err(err).Int("rows", len(reports)).Msg("report batch write failed")
	} else if len(reports) > 0 {
		w.metrics.ReportsPersisted.Add(float64(len(reports)))
	}

	w.metrics.JournalBatchSize.Observe(float64(total))
}
