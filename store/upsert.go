package store

import (
	"context"

	"driftflow/logger"
	"driftflow/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertConflict describes the keyed-write semantics: on a (market, time)
// collision the metric columns are overwritten, so re-running any batch
// converges instead of duplicating.
func upsertConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "market"}, {Name: "time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"funding_rate_apr",
			"oracle_price",
			"mark_price",
		}),
	}
}

// UpsertBatch writes one day's samples in a single transaction: either the
// whole batch becomes visible or none of it. Returns the number of rows
// written. Failures carry FaultStorage and must abort the pass; silently
// losing writes would break resumability.
func (s *Store) UpsertBatch(ctx context.Context, samples []models.FundingRate) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(upsertConflict()).Create(&samples).Error
	})
	if err != nil {
		return 0, models.NewFault(models.FaultStorage, err)
	}

	logger.AddRowsUpserted(len(samples))
	return len(samples), nil
}
