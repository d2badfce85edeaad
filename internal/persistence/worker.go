package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/observability"
)

// Output mirrors core.Output in row form. The orchestrator bridges
// between the two to keep persistence free of a core import.
type Output struct {
	ActionRow   ActionRow
	JournalRows []JournalRow
}

// Worker drains the persist channel and batch-writes to Postgres. The
// core sends on this channel blocking, so a slow worker stalls the core
// instead of losing actions.
type Worker struct {
	writer       *ActionLogWriter
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewActionLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timer fires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	actionBatch := make([]ActionRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(actionBatch) > 0 {
				if err := w.flush(context.Background(), actionBatch, journalBatch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(actionBatch) > 0 {
					if err := w.flush(context.Background(), actionBatch, journalBatch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			actionBatch = append(actionBatch, output.ActionRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(actionBatch) >= w.batchSize {
				w.flushWithRetry(ctx, actionBatch, journalBatch)
				actionBatch = actionBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(actionBatch) > 0 {
				w.flushWithRetry(ctx, actionBatch, journalBatch)
				actionBatch = actionBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds. The worker never drops a batch; on context cancellation it
// attempts one final flush before giving up.
func (w *Worker) flushWithRetry(ctx context.Context, actions []ActionRow, journals []JournalRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("actions", len(actions)).Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetries.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), actions, journals); err != nil {
					w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, actions, journals)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}

		w.logger.Error().Err(err).Msg("persistence flush failed")
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
	}
}

// flush writes actions and journals in a single transaction.
func (w *Worker) flush(ctx context.Context, actions []ActionRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.writer.WriteActionBatch(ctx, tx, actions); err != nil {
		return fmt.Errorf("write actions: %w", err)
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistActionsWritten.Add(float64(len(actions)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(actions) > 0 {
			w.metrics.PersistLastSequence.Set(float64(actions[len(actions)-1].Sequence))
		}
	}

	return nil
}
