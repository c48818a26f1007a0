// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics instruments the vault.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/relayer"
	"github.com/luxfi/readingvault/utils/wrappers"
)

const (
	Namespace = "readpref"

	resultLabel = "result"
)

var (
	_ Metrics = (*metricsImpl)(nil)

	successLabels = metric.Labels{resultLabel: "success"}
	failureLabels = metric.Labels{resultLabel: "failure"}
)

type Metrics interface {
	APIInterceptor

	// MarkSubmitted records a preference write of entries categories.
	MarkSubmitted(entries int, err error)
	// MarkDecrypted records a decryption attempt.
	MarkDecrypted(err error)
	MarkCacheRestored(entries int)
	MarkCacheInvalidated()
	// ObserveSDK is a relayer.Observer tracking the session state.
	ObserveSDK(from, to relayer.State)
}

type metricsImpl struct {
	APIInterceptor

	submissions     metric.CounterVec
	entries         metric.Counter
	decryptions     metric.CounterVec
	cacheRestored   metric.Counter
	cacheInvalidate metric.Counter
	sdkState        metric.Gauge
}

// New registers the vault metrics along with the process and Go runtime
// collectors.
func New(registerer metric.Registerer) (Metrics, error) {
	m := &metricsImpl{
		submissions: metric.NewCounterVec(
			metric.CounterOpts{
				Name: Namespace + "_submissions",
				Help: "Number of preference transactions by result",
			},
			[]string{resultLabel},
		),
		entries: metric.NewCounter(metric.CounterOpts{
			Name: Namespace + "_submitted_entries",
			Help: "Number of category contributions confirmed on the ledger",
		}),
		decryptions: metric.NewCounterVec(
			metric.CounterOpts{
				Name: Namespace + "_decryptions",
				Help: "Number of user decryptions by result",
			},
			[]string{resultLabel},
		),
		cacheRestored: metric.NewCounter(metric.CounterOpts{
			Name: Namespace + "_cache_restored_entries",
			Help: "Number of decrypted counts restored from the persisted cache",
		}),
		cacheInvalidate: metric.NewCounter(metric.CounterOpts{
			Name: Namespace + "_cache_invalidations",
			Help: "Number of times the persisted cache was dropped",
		}),
		sdkState: metric.NewGauge(metric.GaugeOpts{
			Name: Namespace + "_sdk_state",
			Help: "Relayer SDK lifecycle state (0 unloaded, 1 loading, 2 loaded, 3 ready, 4 error)",
		}),
	}

	interceptor, err := NewAPIInterceptor(Namespace, registerer)
	m.APIInterceptor = interceptor

	errs := wrappers.Errs{Err: err}
	errs.Add(
		registerer.Register(metric.AsCollector(m.submissions)),
		registerer.Register(metric.AsCollector(m.entries)),
		registerer.Register(metric.AsCollector(m.decryptions)),
		registerer.Register(metric.AsCollector(m.cacheRestored)),
		registerer.Register(metric.AsCollector(m.cacheInvalidate)),
		registerer.Register(metric.AsCollector(m.sdkState)),
		registerer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
		registerer.Register(collectors.NewGoCollector()),
	)
	return m, errs.Err
}

func (m *metricsImpl) MarkSubmitted(entries int, err error) {
	m.submissions.With(resultLabels(err)).Inc()
	if err == nil {
		m.entries.Add(float64(entries))
	}
}

func (m *metricsImpl) MarkDecrypted(err error) {
	m.decryptions.With(resultLabels(err)).Inc()
}

func (m *metricsImpl) MarkCacheRestored(entries int) {
	m.cacheRestored.Add(float64(entries))
}

func (m *metricsImpl) MarkCacheInvalidated() {
	m.cacheInvalidate.Inc()
}

func (m *metricsImpl) ObserveSDK(_, to relayer.State) {
	m.sdkState.Set(float64(to))
}

func resultLabels(err error) metric.Labels {
	if err != nil {
		return failureLabels
	}
	return successLabels
}
