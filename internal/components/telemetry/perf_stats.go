package telemetry

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const report_perf_stats = "perf-stats"

// RecordPerfStats records one sample of process statistics on the global meter
// and reports the heap size to `tel`.
func RecordPerfStats(ctx context.Context, tel API) {
	meter := otel.Meter("labwatch.perf_stats")

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// an interval of 0 compares against the previous call instead of blocking
	cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(cpuUsage) == 0 {
		tel.ReportWarning(report_perf_stats, err)
	} else {
		record(meter.Float64Gauge("cpu_usage"))(ctx, cpuUsage[0])
	}

	recordInt(meter.Int64Gauge("allocated_mb"))(ctx, int64(memStats.Alloc/1_000_000))
	recordInt(meter.Int64Gauge("live_objects"))(ctx, int64(memStats.Mallocs)-int64(memStats.Frees))
	recordInt(meter.Int64Gauge("goroutine_count"))(ctx, int64(runtime.NumGoroutine()))

	tel.ReportCount("allocated-mb", int64(memStats.Alloc/1_000_000))
}

func record(gauge metric.Float64Gauge, err error) func(context.Context, float64) {
	return func(ctx context.Context, value float64) {
		if err != nil {
			return
		}
		gauge.Record(ctx, value)
	}
}

func recordInt(gauge metric.Int64Gauge, err error) func(context.Context, int64) {
	return func(ctx context.Context, value int64) {
		if err != nil {
			return
		}
		gauge.Record(ctx, value)
	}
}
