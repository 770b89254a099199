package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"driftflow/config"
	"driftflow/logger"
	"driftflow/models"

	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

// Fetcher retrieves day-scoped funding-rate payloads from the Drift data
// API. One Fetcher is shared across the whole pass so the inter-request
// limiter paces every call globally, not per market.
type Fetcher struct {
	cfg     *config.Config
	client  *resty.Client
	limiter *rate.Limiter
	log     *logger.Log

	// sleep is swapped out in tests so ban recovery and backoff do not
	// block the test run.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a Fetcher with a tuned transport and a limiter
// enforcing the configured minimum inter-request delay.
func NewFetcher(cfg *config.Config) *Fetcher {
	pool := cfg.Source.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Source.Timeout).
		SetBaseURL(strings.TrimRight(cfg.Source.BaseURL, "/"))
	if cfg.Source.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.Source.UserAgent)
	}
	// The retry policy lives in FetchDay, not in the HTTP client.
	client.SetRetryCount(0)

	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.Fetch.RequestInterval), 1),
		log:     logger.GetLogger(),
		sleep:   sleepContext,
	}
}

// dayPath builds the day-scoped request path for a market. Months and days
// are zero padded, matching the upstream's URL scheme.
func dayPath(market string, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("/%s/fundingRates/%04d/%02d/%02d", market, day.Year(), int(day.Month()), day.Day())
}

// FetchDay returns every raw record the API holds for market on the given
// UTC calendar day. An empty slice is a valid outcome: it covers "no data",
// an anomalous oversized payload, and transient-retry exhaustion (the day
// stays a gap and is retried on a later pass). A non-nil error is returned
// only when ctx is cancelled.
func (f *Fetcher) FetchDay(ctx context.Context, market string, day time.Time) ([]models.FundingRateRecord, error) {
	log := f.log.WithComponent("drift_fetcher").WithFields(logger.Fields{
		"market": market,
		"day":    day.UTC().Format("2006-01-02"),
	})

	bo := &backoff.Backoff{
		Min:    f.cfg.Fetch.BaseDelay,
		Max:    f.cfg.Fetch.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	path := dayPath(market, day)
	attempt := 1
	transientFailures := 0

	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		logger.IncrementFetchAttempt()
		log.WithFields(logger.Fields{"attempt": attempt}).Debug("requesting funding rates")

		resp, err := f.client.R().
			SetContext(ctx).
			SetQueryParam("format", "json").
			Get(path)

		records, ferr := f.classify(resp, err)
		if ferr == nil {
			if records == nil {
				records = []models.FundingRateRecord{}
			}
			return records, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch kind, _ := models.KindOf(ferr); kind {
		case models.FaultRateLimited:
			// Ban recovery is unbounded in attempts; it never consumes the
			// transient retry budget.
			sleepFor := f.cfg.Fetch.BanSleepFallback
			if ra := retryAfter(resp); ra > 0 {
				sleepFor = ra
			}
			logger.IncrementRateLimitSleep()
			log.WithFields(logger.Fields{
				"attempt":   attempt,
				"sleep_sec": sleepFor.Seconds(),
			}).Warn("rate limited or banned, sleeping before retry")
			if err := f.sleep(ctx, sleepFor); err != nil {
				return nil, err
			}
			attempt++

		default:
			transientFailures++
			if transientFailures >= f.cfg.Fetch.MaxAttempts {
				log.WithError(ferr).WithFields(logger.Fields{"attempt": attempt}).Warn("giving up on day after transient failures")
				return []models.FundingRateRecord{}, nil
			}
			wait := bo.Duration()
			log.WithError(ferr).WithFields(logger.Fields{
				"attempt":  attempt,
				"retry_in": wait.String(),
			}).Warn("transient fetch failure, retrying")
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
			attempt++
		}
	}
}

// classify turns one HTTP exchange into either a day's records or a
// categorized fault driving the retry decision.
func (f *Fetcher) classify(resp *resty.Response, err error) ([]models.FundingRateRecord, error) {
	if err != nil {
		return nil, models.NewFault(models.FaultTransientFetch, err)
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests || status == http.StatusForbidden {
		return nil, models.Faultf(models.FaultRateLimited, "http status %d", status)
	}
	if resp.IsError() {
		return nil, models.Faultf(models.FaultTransientFetch, "http status %d", status)
	}

	var body models.FundingRatesResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, models.NewFault(models.FaultTransientFetch, err)
	}

	if !body.Success {
		f.log.WithComponent("drift_fetcher").Debug("api reported failure, treating as no data")
		return nil, nil
	}
	if len(body.Records) > f.cfg.Fetch.MaxRecordsPerDay {
		f.log.WithComponent("drift_fetcher").WithFields(logger.Fields{
			"records": len(body.Records),
			"limit":   f.cfg.Fetch.MaxRecordsPerDay,
		}).Warn("suspiciously large payload, discarding day")
		return nil, nil
	}
	return body.Records, nil
}

// retryAfter reads the Retry-After header as integer seconds. Zero means
// absent or unusable.
func retryAfter(resp *resty.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := strings.TrimSpace(resp.Header().Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
