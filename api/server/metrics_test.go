// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/metrics"
)

func scrape(t *testing.T, gatherer metric.Gatherer) string {
	t.Helper()
	w := httptest.NewRecorder()
	metrics.Handler(gatherer).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetricsRegistrationFailure(t *testing.T) {
	reg := metric.NewRegistry()

	metrics1, err := newMetrics(reg)
	require.NoError(t, err)
	require.NotNil(t, metrics1)

	// Second registration should fail due to duplicate metrics
	metrics2, err := newMetrics(reg)
	require.Error(t, err)
	require.Nil(t, metrics2)
}

func TestWrapHandler(t *testing.T) {
	require := require.New(t)

	registry := metric.NewRegistry()
	m, err := newMetrics(registry)
	require.NoError(err)

	var during string
	handler := m.wrapHandler("vault", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		during = scrape(t, registry)
		w.WriteHeader(http.StatusTeapot)
	}))

	for range 3 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(http.StatusTeapot, w.Code)
	}

	require.Contains(during, "api_requests_inflight 1")
	after := scrape(t, registry)
	require.Contains(after, "api_requests_inflight 0")
	require.Contains(after, `api_requests_total{method="POST",route="vault"} 3`)
	require.Contains(after, `api_request_duration_seconds_sum{method="POST",route="vault"}`)
}
