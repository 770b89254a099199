package processor

import (
	"time"

	"driftflow/logger"
	"driftflow/models"
)

// Annualization of an hourly-settlement funding rate into percent APR.
// 100000 is the percent/scale normalization matching the source's
// fixed-point convention. The constant and division order must not change:
// stored values are regression-compared bit-for-bit.
const aprHourlyFactor = 24 * 365.25 * 100000

// Normalize converts one raw API record into a canonical sample. A
// rejected record carries a FaultRejectedRecord error and must be dropped
// without aborting the day.
func Normalize(rec models.FundingRateRecord) (models.FundingRate, error) {
	ts, ok := rec.TS.Int64()
	if !ok {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "missing or non-numeric ts")
	}
	if rec.Symbol == "" {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "missing symbol")
	}
	fundingRaw, ok := rec.FundingRate.Float64()
	if !ok {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "missing or non-numeric fundingRate")
	}
	oracleRaw, ok := rec.OraclePriceTwap.Float64()
	if !ok {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "missing or non-numeric oraclePriceTwap")
	}
	markRaw, ok := rec.MarkPriceTwap.Float64()
	if !ok {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "missing or non-numeric markPriceTwap")
	}

	if oracleRaw <= 0 {
		return models.FundingRate{}, models.Faultf(models.FaultRejectedRecord, "non-positive oracle price %v", oracleRaw)
	}

	apr := aprHourlyFactor * (fundingRaw / 1e9) / (oracleRaw / 1e6)

	return models.FundingRate{
		Time:           time.Unix(ts, 0).UTC(),
		Market:         rec.Symbol,
		FundingRateAPR: apr,
		OraclePrice:    oracleRaw,
		MarkPrice:      markRaw,
	}, nil
}

// NormalizeBatch maps a day's records into canonical samples. Rejections
// are logged and counted, never fatal.
func NormalizeBatch(records []models.FundingRateRecord, log *logger.Entry) ([]models.FundingRate, int) {
	samples := make([]models.FundingRate, 0, len(records))
	rejected := 0
	for _, rec := range records {
		sample, err := Normalize(rec)
		if err != nil {
			rejected++
			if log != nil {
				log.WithError(err).Warn("skipping bad record")
			}
			continue
		}
		samples = append(samples, sample)
	}
	if rejected > 0 {
		logger.AddRecordsRejected(rejected)
	}
	return samples, rejected
}
