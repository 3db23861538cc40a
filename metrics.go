package annbridge

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    appendCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAppend(count, recorded int, duration time.Duration, err error) {
//	    p.appendCounter.Add(float64(recorded))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordAppend is called after each append operation. count is the
	// number of rows attempted, recorded the number whose labels were
	// recorded in the bridge (partial success is possible).
	RecordAppend(count, recorded int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation. requested is
	// the number of row ids given, deleted the number actually live.
	RecordDelete(requested, deleted int, duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of neighbors requested, dropped the number of
	// backend labels that failed to resolve in the bridge.
	RecordSearch(k, dropped int, duration time.Duration, err error)

	// RecordMerge is called after each merge, with the number of rows
	// moved into the target index.
	RecordMerge(moved int, duration time.Duration, err error)

	// RecordMaintenance is called after vacuum and index-build
	// operations, tagged with the operation name.
	RecordMaintenance(op string, duration time.Duration, err error)

	// RecordPersist is called after each metadata flush.
	RecordPersist(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAppend(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordMerge(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordMaintenance(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordPersist(time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AppendCount      atomic.Int64
	AppendRows       atomic.Int64
	AppendErrors     atomic.Int64
	AppendTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteRows       atomic.Int64
	DeleteErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchDropped    atomic.Int64
	SearchTotalNanos atomic.Int64
	MergeCount       atomic.Int64
	MergeMoved       atomic.Int64
	MergeErrors      atomic.Int64
	MaintenanceCount atomic.Int64
	PersistCount     atomic.Int64
	PersistErrors    atomic.Int64
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(count, recorded int, duration time.Duration, err error) {
	b.AppendCount.Add(1)
	b.AppendRows.Add(int64(recorded))
	b.AppendTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AppendErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(requested, deleted int, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteRows.Add(int64(deleted))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k, dropped int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchDropped.Add(int64(dropped))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(moved int, duration time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergeMoved.Add(int64(moved))
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// RecordMaintenance implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaintenance(op string, duration time.Duration, err error) {
	b.MaintenanceCount.Add(1)
}

// RecordPersist implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPersist(duration time.Duration, err error) {
	b.PersistCount.Add(1)
	if err != nil {
		b.PersistErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	AppendCount    int64
	AppendRows     int64
	AppendErrors   int64
	AppendAvgNanos int64
	DeleteCount    int64
	DeleteRows     int64
	DeleteErrors   int64
	SearchCount    int64
	SearchErrors   int64
	SearchDropped  int64
	SearchAvgNanos int64
	MergeCount     int64
	MergeMoved     int64
	MergeErrors    int64
	PersistCount   int64
	PersistErrors  int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		AppendCount:   b.AppendCount.Load(),
		AppendRows:    b.AppendRows.Load(),
		AppendErrors:  b.AppendErrors.Load(),
		DeleteCount:   b.DeleteCount.Load(),
		DeleteRows:    b.DeleteRows.Load(),
		DeleteErrors:  b.DeleteErrors.Load(),
		SearchCount:   b.SearchCount.Load(),
		SearchErrors:  b.SearchErrors.Load(),
		SearchDropped: b.SearchDropped.Load(),
		MergeCount:    b.MergeCount.Load(),
		MergeMoved:    b.MergeMoved.Load(),
		MergeErrors:   b.MergeErrors.Load(),
		PersistCount:  b.PersistCount.Load(),
		PersistErrors: b.PersistErrors.Load(),
	}
	if n := stats.AppendCount; n > 0 {
		stats.AppendAvgNanos = b.AppendTotalNanos.Load() / n
	}
	if n := stats.SearchCount; n > 0 {
		stats.SearchAvgNanos = b.SearchTotalNanos.Load() / n
	}
	return stats
}
