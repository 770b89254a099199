package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"driftflow/config"
	"driftflow/logger"
	"driftflow/models"
	"driftflow/processor"
	"driftflow/scheduler"

	"github.com/google/uuid"
)

// Fetcher retrieves one day's raw records for a market. Implemented by
// reader/drift.
type Fetcher interface {
	FetchDay(ctx context.Context, market string, day time.Time) ([]models.FundingRateRecord, error)
}

// Storage is the persisted-store boundary the orchestrator needs.
// Implemented by store.
type Storage interface {
	LatestByMarket(ctx context.Context) (map[string]time.Time, error)
	DayComplete(ctx context.Context, market string, day time.Time) (bool, error)
	UpsertBatch(ctx context.Context, samples []models.FundingRate) (int, error)
}

// Runner drives synchronization passes. All resumption state is re-derived
// from the store at the start of every pass; nothing is carried in memory
// between passes, which keeps restarts idempotent.
type Runner struct {
	cfg     *config.Config
	store   Storage
	fetcher Fetcher
	log     *logger.Log

	// now is swapped out in tests to pin "today".
	now func() time.Time
}

func NewRunner(cfg *config.Config, store Storage, fetcher Fetcher) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

// RunPass performs one full pass over every configured market, in the
// configured order, processing each market's gap days in ascending
// calendar order. Returns total rows written.
//
// Cancellation is checked at market and day boundaries only; an in-flight
// HTTP call or batch write always runs to completion. A storage write
// failure aborts the pass; storage read failures degrade (no cursor,
// day assumed incomplete).
func (r *Runner) RunPass(ctx context.Context, forcedStart *time.Time) (int, error) {
	log := r.log.WithComponent("ingest").WithFields(logger.Fields{
		"pass_id": uuid.NewString(),
	})
	if forcedStart != nil {
		log = log.WithFields(logger.Fields{
			"backfill_from": forcedStart.Format("2006-01-02"),
		})
	}

	// "today" is evaluated once so every market in this pass shares it.
	today := scheduler.Midnight(r.now())

	latest, err := r.store.LatestByMarket(ctx)
	if err != nil {
		log.WithError(err).Warn("cursor query failed, assuming no cursors")
		latest = map[string]time.Time{}
	}

	total := 0
	for _, market := range r.cfg.Driftflow.Markets {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		mlog := log.WithFields(logger.Fields{"market": market})

		var cursor *time.Time
		if ts, ok := latest[market]; ok {
			c := ts
			cursor = &c
			mlog.WithFields(logger.Fields{"latest": ts.Format(time.RFC3339)}).Debug("resuming from cursor")
		}

		days := scheduler.PlanDays(today, cursor, forcedStart, r.cfg.Scheduler.DefaultLookbackDays)
		if forcedStart != nil {
			days = scheduler.FilterIncomplete(ctx, r.store, market, days, mlog)
		}
		if len(days) == 0 {
			mlog.Info("up to date")
			continue
		}

		mlog.WithFields(logger.Fields{
			"days":  len(days),
			"first": days[0].Format("2006-01-02"),
			"last":  days[len(days)-1].Format("2006-01-02"),
		}).Info("processing gap days")

		marketTotal := 0
		for i, d := range days {
			if err := ctx.Err(); err != nil {
				return total, err
			}

			dlog := mlog.WithFields(logger.Fields{
				"day":      d.Format("2006-01-02"),
				"progress": fmt.Sprintf("%d/%d", i+1, len(days)),
			})

			records, err := r.fetcher.FetchDay(ctx, market, d)
			if err != nil {
				// Only cancellation surfaces as an error from FetchDay.
				return total, err
			}
			if len(records) == 0 {
				logger.IncrementDaySkipped()
				dlog.Info("no data returned, day remains a gap")
				continue
			}

			samples, rejected := processor.NormalizeBatch(records, dlog)
			if len(samples) == 0 {
				logger.IncrementDaySkipped()
				dlog.WithFields(logger.Fields{"rejected": rejected}).Warn("no valid rows for day")
				continue
			}

			n, err := r.store.UpsertBatch(ctx, samples)
			if err != nil {
				return total, fmt.Errorf("upsert %s %s: %w", market, d.Format("2006-01-02"), err)
			}
			total += n
			marketTotal += n
			dlog.WithFields(logger.Fields{
				"rows":     n,
				"rejected": rejected,
			}).Info("upserted rows")
		}

		mlog.WithFields(logger.Fields{
			"days": len(days),
			"rows": marketTotal,
		}).Info("market complete")
	}

	logger.IncrementPassCompleted()
	log.WithFields(logger.Fields{"rows_total": total}).Info("pass complete")
	return total, nil
}

// RunContinuous repeats passes until ctx is cancelled, sleeping the idle
// duration after a pass that wrote nothing and the busy duration otherwise.
// A storage write failure aborts the current pass, is logged, and the next
// pass restarts from stored state.
func (r *Runner) RunContinuous(ctx context.Context) error {
	log := r.log.WithComponent("ingest")
	for {
		total, err := r.RunPass(ctx, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("pass aborted, restarting from stored state")
		}

		nap := r.cfg.Pass.BusySleep
		if err == nil && total == 0 {
			nap = r.cfg.Pass.IdleSleep
		}
		log.WithFields(logger.Fields{"sleep": nap.String()}).Info("sleeping between passes")

		timer := time.NewTimer(nap)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
