package models

import "time"

// FundingRate is the canonical persisted sample. At most one row exists
// per (market, time); re-ingesting the same observation overwrites the
// metric columns.
type FundingRate struct {
	Time           time.Time `gorm:"primaryKey;type:datetime" json:"time"`
	Market         string    `gorm:"primaryKey;size:32" json:"market"`
	FundingRateAPR float64   `gorm:"column:funding_rate_apr" json:"funding_rate_apr"`
	OraclePrice    float64   `gorm:"column:oracle_price" json:"oracle_price"`
	MarkPrice      float64   `gorm:"column:mark_price" json:"mark_price"`
}

// TableName pins the table name used by the original schema.
func (FundingRate) TableName() string {
	return "funding_rates"
}

// MarketCoverage summarises stored data for one market, powering the
// read-only summary mode.
type MarketCoverage struct {
	Market       string    `json:"market"`
	EarliestDate time.Time `json:"earliest_date"`
	LatestDate   time.Time `json:"latest_date"`
	TotalRecords int64     `json:"total_records"`
	DaysWithData int64     `json:"days_with_data"`
}
