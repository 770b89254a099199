package store

import (
	"context"
	"time"

	"driftflow/models"
)

// LatestByMarket returns the newest persisted sample time for every market
// that has at least one row. Markets without data are simply absent; the
// caller seeds them with the default lookback window.
func (s *Store) LatestByMarket(ctx context.Context) (map[string]time.Time, error) {
	var rows []struct {
		Market string
		Latest time.Time
	}
	err := s.db.WithContext(ctx).
		Model(&models.FundingRate{}).
		Select("market, MAX(time) AS latest").
		Group("market").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewFault(models.FaultStorage, err)
	}

	latest := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		latest[row.Market] = row.Latest.UTC()
	}
	return latest, nil
}

// DayComplete reports whether the store already holds samples covering at
// least the configured number of distinct UTC hours of the given day. The
// threshold tolerates sparse upstream gaps without forcing endless
// re-fetching of an already well-populated day.
func (s *Store) DayComplete(ctx context.Context, market string, day time.Time) (bool, error) {
	start := day.UTC()
	end := start.Add(24 * time.Hour)

	var hourCount int64
	err := s.db.WithContext(ctx).
		Model(&models.FundingRate{}).
		Select("COUNT(DISTINCT HOUR(time))").
		Where("market = ? AND time >= ? AND time < ?", market, start, end).
		Scan(&hourCount).Error
	if err != nil {
		return false, models.NewFault(models.FaultStorage, err)
	}

	return hourCount >= int64(s.cfg.Scheduler.CompleteHourThreshold), nil
}

// CoverageSummary returns per-market coverage of the stored data, ordered
// by market name.
func (s *Store) CoverageSummary(ctx context.Context) ([]models.MarketCoverage, error) {
	var rows []models.MarketCoverage
	err := s.db.WithContext(ctx).
		Model(&models.FundingRate{}).
		Select("market, MIN(time) AS earliest_date, MAX(time) AS latest_date, COUNT(*) AS total_records, COUNT(DISTINCT DATE(time)) AS days_with_data").
		Group("market").
		Order("market").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewFault(models.FaultStorage, err)
	}
	return rows, nil
}
