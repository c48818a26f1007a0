// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/metric"

	dto "github.com/prometheus/client_model/go"
)

// Handler serves everything gatherer collects in the prometheus text format.
func Handler(gatherer metric.Gatherer) http.Handler {
	return promhttp.HandlerFor(
		prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
			families, err := gatherer.Gather()
			return families, err
		}),
		promhttp.HandlerOpts{},
	)
}
