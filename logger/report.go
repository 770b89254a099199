package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	errorsFetch     int64
	errorsStore     int64
	warnsFetch      int64
	warnsStore      int64
	fetchAttempts   int64
	rateLimitSleeps int64
	rowsUpserted    int64
	recordsRejected int64
	daysSkipped     int64
	passesCompleted int64
)

func recordWarn(component string) {
	if strings.Contains(component, "fetch") || strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsFetch, 1)
	} else if strings.Contains(component, "store") {
		atomic.AddInt64(&warnsStore, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "fetch") || strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsFetch, 1)
	} else if strings.Contains(component, "store") {
		atomic.AddInt64(&errorsStore, 1)
	}
}

// IncrementFetchAttempt counts one HTTP attempt against the upstream API.
func IncrementFetchAttempt() {
	atomic.AddInt64(&fetchAttempts, 1)
}

// IncrementRateLimitSleep counts one 429/403 recovery sleep.
func IncrementRateLimitSleep() {
	atomic.AddInt64(&rateLimitSleeps, 1)
}

// AddRowsUpserted counts rows written by the store.
func AddRowsUpserted(n int) {
	atomic.AddInt64(&rowsUpserted, int64(n))
}

// AddRecordsRejected counts raw records dropped during normalization.
func AddRecordsRejected(n int) {
	atomic.AddInt64(&recordsRejected, int64(n))
}

// IncrementDaySkipped counts a day that yielded no writable rows.
func IncrementDaySkipped() {
	atomic.AddInt64(&daysSkipped, 1)
}

// IncrementPassCompleted counts one finished synchronization pass.
func IncrementPassCompleted() {
	atomic.AddInt64(&passesCompleted, 1)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_fetch":      atomic.LoadInt64(&errorsFetch),
		"errors_store":      atomic.LoadInt64(&errorsStore),
		"warns_fetch":       atomic.LoadInt64(&warnsFetch),
		"warns_store":       atomic.LoadInt64(&warnsStore),
		"fetch_attempts":    atomic.LoadInt64(&fetchAttempts),
		"rate_limit_sleeps": atomic.LoadInt64(&rateLimitSleeps),
		"rows_upserted":     atomic.LoadInt64(&rowsUpserted),
		"records_rejected":  atomic.LoadInt64(&recordsRejected),
		"days_skipped":      atomic.LoadInt64(&daysSkipped),
		"passes_completed":  atomic.LoadInt64(&passesCompleted),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"disk_mb":           int64(diskStats.Used) / 1024 / 1024,
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFetch"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_fetch"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsStore"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_store"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsFetch"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_fetch"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsStore"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_store"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FetchAttempts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetch_attempts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RateLimitSleeps"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rate_limit_sleeps"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RowsUpserted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rows_upserted"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecordsRejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_rejected"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("DaysSkipped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["days_skipped"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("PassesCompleted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["passes_completed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	publishMetrics(ctx, data)
}
