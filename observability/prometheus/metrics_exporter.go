package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-task-sync/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	WaitBuckets     []float64
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	lockWaitSeconds        *prom.HistogramVec
	helperJoinsTotal       prom.Counter
	executeDurationSeconds prom.Histogram
	backgroundTaskSeconds  *prom.HistogramVec
	queueDepth             *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "tasksync"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	waitBuckets := opts.WaitBuckets
	if len(waitBuckets) == 0 {
		waitBuckets = prom.DefBuckets
	}
	durationBuckets := opts.DurationBuckets
	if len(durationBuckets) == 0 {
		durationBuckets = prom.DefBuckets
	}

	lockWaitVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire a TaskMutex, by lock type.",
		Buckets:   waitBuckets,
	}, []string{"lock_type"})
	helperJoins := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "helper_joins_total",
		Help:      "Total number of times a contender joined in-progress writer work.",
	})
	executeDuration := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "execute_duration_seconds",
		Help:      "Duration of writer Execute calls, including all sub-tasks.",
		Buckets:   durationBuckets,
	})
	backgroundVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "background_task_duration_seconds",
		Help:      "Background task run time, by terminal status.",
		Buckets:   durationBuckets,
	}, []string{"status"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current pool queue depth.",
	}, []string{"pool"})

	var err error
	if lockWaitVec, err = registerCollector(reg, lockWaitVec); err != nil {
		return nil, err
	}
	if helperJoins, err = registerCollector(reg, helperJoins); err != nil {
		return nil, err
	}
	if executeDuration, err = registerCollector(reg, executeDuration); err != nil {
		return nil, err
	}
	if backgroundVec, err = registerCollector(reg, backgroundVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		lockWaitSeconds:        lockWaitVec,
		helperJoinsTotal:       helperJoins,
		executeDurationSeconds: executeDuration,
		backgroundTaskSeconds:  backgroundVec,
		queueDepth:             queueDepthVec,
	}, nil
}

// RecordLockAcquired records a successful acquisition and its wait time.
func (m *MetricsExporter) RecordLockAcquired(lockType string, wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitSeconds.WithLabelValues(normalizeLabel(lockType, "unknown")).Observe(wait.Seconds())
}

// RecordHelperJoin records a contender joining writer work.
func (m *MetricsExporter) RecordHelperJoin() {
	if m == nil {
		return
	}
	m.helperJoinsTotal.Inc()
}

// RecordExecuteDuration records a writer Execute duration.
func (m *MetricsExporter) RecordExecuteDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.executeDurationSeconds.Observe(duration.Seconds())
}

// RecordBackgroundTask records a background task reaching a terminal status.
func (m *MetricsExporter) RecordBackgroundTask(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.backgroundTaskSeconds.WithLabelValues(normalizeLabel(status, "unknown")).Observe(duration.Seconds())
}

// RecordQueueDepth records pool queue depth.
func (m *MetricsExporter) RecordQueueDepth(poolName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(poolName, "unknown")).Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
