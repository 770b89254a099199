package models

import (
	"bytes"
	"strconv"
)

// FlexNumber holds a JSON value that the upstream sometimes emits as a
// number and sometimes as a quoted string. Decoding never fails; bad
// values surface later as per-record rejections instead of killing the
// whole day's payload.
type FlexNumber string

// UnmarshalJSON accepts numbers, quoted numbers, and null.
func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' && len(data) >= 2 {
		data = data[1 : len(data)-1]
	}
	*n = FlexNumber(data)
	return nil
}

// Float64 parses the held value. ok is false for missing or non-numeric
// values.
func (n FlexNumber) Float64() (float64, bool) {
	if n == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Int64 parses the held value as an integer, tolerating a float-shaped
// representation of a whole number.
func (n FlexNumber) Int64() (int64, bool) {
	if n == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// FundingRateRecord is one raw funding-rate observation as returned by the
// Drift data API. Values are fixed-point scaled: fundingRate by 1e9,
// the price TWAPs by 1e6.
type FundingRateRecord struct {
	TS              FlexNumber `json:"ts"`
	Symbol          string     `json:"symbol"`
	FundingRate     FlexNumber `json:"fundingRate"`
	OraclePriceTwap FlexNumber `json:"oraclePriceTwap"`
	MarkPriceTwap   FlexNumber `json:"markPriceTwap"`
}

// FundingRatesResponse is the body of a day-scoped funding rates request.
// success=false is a valid "no data" outcome, not an error.
type FundingRatesResponse struct {
	Success bool                `json:"success"`
	Records []FundingRateRecord `json:"records"`
}
