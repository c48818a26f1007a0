// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"time"

	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/utils/wrappers"
)

var routeLabels = []string{"method", "route"}

type serverMetrics struct {
	requests metric.CounterVec
	duration metric.GaugeVec
	inflight metric.Gauge
}

func newMetrics(registerer metric.Registerer) (*serverMetrics, error) {
	m := &serverMetrics{
		requests: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of API requests",
			},
			routeLabels,
		),
		duration: metric.NewGaugeVec(
			metric.GaugeOpts{
				Name: "api_request_duration_seconds_sum",
				Help: "Seconds spent serving API requests",
			},
			routeLabels,
		),
		inflight: metric.NewGauge(metric.GaugeOpts{
			Name: "api_requests_inflight",
			Help: "Number of inflight API requests",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.requests)),
		registerer.Register(metric.AsCollector(m.duration)),
		registerer.Register(metric.AsCollector(m.inflight)),
	)
	if errs.Errored() {
		return nil, errs.Err
	}
	return m, nil
}

func (m *serverMetrics) wrapHandler(route string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		labels := metric.Labels{"method": r.Method, "route": route}
		m.requests.With(labels).Inc()
		m.inflight.Add(1)
		defer m.inflight.Add(-1)

		start := time.Now()
		handler.ServeHTTP(w, r)
		m.duration.With(labels).Add(time.Since(start).Seconds())
	})
}
