package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"driftflow/config"
	"driftflow/models"
)

var testToday = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func testConfig(markets ...string) *config.Config {
	return &config.Config{
		Driftflow: config.DriftflowConfig{
			Name:    "driftflow",
			Version: "test",
			Markets: markets,
		},
		Scheduler: config.SchedulerConfig{
			DefaultLookbackDays:   30,
			CompleteHourThreshold: 20,
		},
		Pass: config.PassConfig{
			IdleSleep: time.Millisecond,
			BusySleep: time.Millisecond,
		},
	}
}

func goodRecord(ts int64) models.FundingRateRecord {
	return models.FundingRateRecord{
		TS:              models.FlexNumber(fmt.Sprintf("%d", ts)),
		Symbol:          "SOL-PERP",
		FundingRate:     "1000",
		OraclePriceTwap: "1000000",
		MarkPriceTwap:   "1000000",
	}
}

func badRecord(ts int64) models.FundingRateRecord {
	rec := goodRecord(ts)
	rec.OraclePriceTwap = "0"
	return rec
}

type fetchCall struct {
	market string
	day    time.Time
}

type fakeFetcher struct {
	calls   []fetchCall
	records map[string][]models.FundingRateRecord // "market|YYYY-MM-DD"
	cancel  context.CancelFunc                    // cancels after the first fetch when set
}

func key(market string, day time.Time) string {
	return market + "|" + day.Format("2006-01-02")
}

func (f *fakeFetcher) FetchDay(ctx context.Context, market string, day time.Time) ([]models.FundingRateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, fetchCall{market: market, day: day})
	if f.cancel != nil {
		f.cancel()
	}
	return f.records[key(market, day)], nil
}

type fakeStorage struct {
	latest     map[string]time.Time
	latestErr  error
	complete   map[string]bool // "market|YYYY-MM-DD"
	upserts    [][]models.FundingRate
	upsertErr  error
	dayQueries int
}

func (s *fakeStorage) LatestByMarket(context.Context) (map[string]time.Time, error) {
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	return s.latest, nil
}

func (s *fakeStorage) DayComplete(_ context.Context, market string, day time.Time) (bool, error) {
	s.dayQueries++
	return s.complete[key(market, day)], nil
}

func (s *fakeStorage) UpsertBatch(_ context.Context, samples []models.FundingRate) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserts = append(s.upserts, samples)
	return len(samples), nil
}

func newTestRunner(cfg *config.Config, st *fakeStorage, f *fakeFetcher) *Runner {
	r := NewRunner(cfg, st, f)
	r.now = func() time.Time { return testToday }
	return r
}

func TestRunPassTotalsAndRejections(t *testing.T) {
	yesterday := testToday.AddDate(0, 0, -1)
	st := &fakeStorage{latest: map[string]time.Time{
		"SOL-PERP": yesterday, // plan: today only
	}}
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{records: map[string][]models.FundingRateRecord{
		key("SOL-PERP", today): {goodRecord(1710460800), badRecord(1710464400), goodRecord(1710468000)},
	}}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	total, err := r.RunPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows written, got %d", total)
	}
	if len(st.upserts) != 1 || len(st.upserts[0]) != 2 {
		t.Fatalf("unexpected upserts: %v", st.upserts)
	}
}

func TestRunPassSkipsEmptyDays(t *testing.T) {
	yesterday := testToday.AddDate(0, 0, -1)
	st := &fakeStorage{latest: map[string]time.Time{"SOL-PERP": yesterday}}
	f := &fakeFetcher{records: map[string][]models.FundingRateRecord{}}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	total, err := r.RunPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 rows, got %d", total)
	}
	if len(st.upserts) != 0 {
		t.Fatal("empty day must not reach the store")
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected exactly one fetch, got %d", len(f.calls))
	}
}

func TestRunPassOrdering(t *testing.T) {
	cursorA := testToday.AddDate(0, 0, -3)
	cursorB := testToday.AddDate(0, 0, -2)
	st := &fakeStorage{latest: map[string]time.Time{
		"BTC-PERP": cursorA,
		"SOL-PERP": cursorB,
	}}
	f := &fakeFetcher{}

	// SOL first in config: market order is the configured order, not
	// alphabetical and not cursor age.
	r := newTestRunner(testConfig("SOL-PERP", "BTC-PERP"), st, f)
	if _, err := r.RunPass(context.Background(), nil); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if len(f.calls) != 5 {
		t.Fatalf("expected 5 fetches (2 SOL + 3 BTC), got %d", len(f.calls))
	}
	for i, c := range f.calls[:2] {
		if c.market != "SOL-PERP" {
			t.Fatalf("call %d: expected SOL-PERP first, got %s", i, c.market)
		}
	}
	for i, c := range f.calls[2:] {
		if c.market != "BTC-PERP" {
			t.Fatalf("call %d: expected BTC-PERP, got %s", i+2, c.market)
		}
	}
	// Ascending days within each market.
	if !f.calls[0].day.Before(f.calls[1].day) {
		t.Fatal("days not ascending for SOL-PERP")
	}
	if !f.calls[2].day.Before(f.calls[3].day) || !f.calls[3].day.Before(f.calls[4].day) {
		t.Fatal("days not ascending for BTC-PERP")
	}
}

func TestRunPassBackfillFiltersCompleteDays(t *testing.T) {
	forced := time.Date(2024, time.March, 13, 0, 0, 0, 0, time.UTC)
	st := &fakeStorage{
		latest: map[string]time.Time{"SOL-PERP": testToday},
		complete: map[string]bool{
			key("SOL-PERP", time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC)): true,
		},
	}
	f := &fakeFetcher{}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	if _, err := r.RunPass(context.Background(), &forced); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	// Forced window 13..15 minus the complete 14th.
	if len(f.calls) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(f.calls))
	}
	for _, c := range f.calls {
		if c.day.Day() == 14 {
			t.Fatal("complete day must be skipped in backfill mode")
		}
	}
	if st.dayQueries != 3 {
		t.Fatalf("expected completeness check per planned day, got %d", st.dayQueries)
	}
}

func TestRunPassCatchUpSkipsCompletenessFilter(t *testing.T) {
	st := &fakeStorage{latest: map[string]time.Time{"SOL-PERP": testToday}}
	f := &fakeFetcher{}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	if _, err := r.RunPass(context.Background(), nil); err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if st.dayQueries != 0 {
		t.Fatal("ordinary catch-up must not run the completeness filter")
	}
	if len(f.calls) != 1 {
		t.Fatalf("cursor on today must still re-fetch today, got %d fetches", len(f.calls))
	}
}

func TestRunPassWriteErrorAborts(t *testing.T) {
	yesterday := testToday.AddDate(0, 0, -1)
	st := &fakeStorage{
		latest:    map[string]time.Time{"SOL-PERP": yesterday},
		upsertErr: models.Faultf(models.FaultStorage, "deadlock"),
	}
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{records: map[string][]models.FundingRateRecord{
		key("SOL-PERP", today): {goodRecord(1710460800)},
	}}

	r := newTestRunner(testConfig("SOL-PERP", "BTC-PERP"), st, f)
	_, err := r.RunPass(context.Background(), nil)
	if err == nil {
		t.Fatal("storage write failure must abort the pass")
	}
	if !models.IsKind(err, models.FaultStorage) {
		t.Fatalf("expected storage fault, got %v", err)
	}
}

func TestRunPassCursorReadErrorDegrades(t *testing.T) {
	st := &fakeStorage{latestErr: errors.New("connection refused")}
	f := &fakeFetcher{}

	cfg := testConfig("SOL-PERP")
	cfg.Scheduler.DefaultLookbackDays = 2
	r := newTestRunner(cfg, st, f)

	total, err := r.RunPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("read failure must not abort the pass: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 rows, got %d", total)
	}
	// No cursor: seeded lookback window of 3 days (inclusive).
	if len(f.calls) != 3 {
		t.Fatalf("expected seed window fetches, got %d", len(f.calls))
	}
}

func TestRunPassCancelledAtDayBoundary(t *testing.T) {
	st := &fakeStorage{} // no cursors: 31-day seed window
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{cancel: cancel}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	_, err := r.RunPass(ctx, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected no further fetches after cancel, got %d", len(f.calls))
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	st := &fakeStorage{latest: map[string]time.Time{"SOL-PERP": testToday}}
	f := &fakeFetcher{}

	r := newTestRunner(testConfig("SOL-PERP"), st, f)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.RunContinuous(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(f.calls) == 0 {
		t.Fatal("expected at least one pass to run")
	}
}
