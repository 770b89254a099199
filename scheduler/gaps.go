package scheduler

import (
	"context"
	"time"

	"driftflow/logger"
)

// Completeness exposes the single read the backfill filter needs. The
// store implementation answers against persisted samples, so restarts
// re-derive everything from the database.
type Completeness interface {
	DayComplete(ctx context.Context, market string, day time.Time) (bool, error)
}

// Midnight truncates t to its UTC calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PlanDays computes the ascending, both-ends-inclusive list of UTC calendar
// days that need a fetch for one market.
//
// A forced backfill start overrides the cursor entirely. With a cursor, the
// window resumes the day after the cursor's day, except that a cursor
// landing on today re-fetches today (it is necessarily incomplete). With no
// cursor the market is seeded with the default lookback window. A start
// past today yields an empty plan.
func PlanDays(today time.Time, cursor, forcedStart *time.Time, lookbackDays int) []time.Time {
	today = Midnight(today)

	var start time.Time
	switch {
	case forcedStart != nil:
		start = Midnight(*forcedStart)
	case cursor != nil:
		lastDay := Midnight(*cursor)
		if lastDay.Equal(today) {
			start = today
		} else {
			start = lastDay.AddDate(0, 0, 1)
		}
	default:
		start = today.AddDate(0, 0, -lookbackDays)
	}

	if start.After(today) {
		return nil
	}

	days := make([]time.Time, 0, int(today.Sub(start).Hours()/24)+1)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// FilterIncomplete drops days that already hold sufficient coverage. Used
// in forced-backfill mode only, so an operator re-running a wide range does
// not refetch well-populated days. A query failure conservatively keeps the
// day in the plan.
func FilterIncomplete(ctx context.Context, store Completeness, market string, days []time.Time, log *logger.Entry) []time.Time {
	kept := make([]time.Time, 0, len(days))
	for _, d := range days {
		complete, err := store.DayComplete(ctx, market, d)
		if err != nil {
			if log != nil {
				log.WithError(err).WithFields(logger.Fields{
					"day": d.Format("2006-01-02"),
				}).Warn("completeness check failed, keeping day")
			}
			kept = append(kept, d)
			continue
		}
		if complete {
			if log != nil {
				log.WithFields(logger.Fields{
					"day": d.Format("2006-01-02"),
				}).Debug("day already complete, skipping")
			}
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
