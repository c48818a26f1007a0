// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"

	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/utils/wrappers"
)

const methodLabel = "method"

// APIInterceptor times JSON-RPC calls. Its methods match
// rpc.Server.RegisterInterceptFunc and RegisterAfterFunc.
type APIInterceptor interface {
	InterceptRequest(i *rpc.RequestInfo) *http.Request
	AfterRequest(i *rpc.RequestInfo)
}

type contextKey int

const requestTimestampKey contextKey = iota

type apiInterceptor struct {
	requestDurationCount metric.CounterVec
	requestDurationSum   metric.GaugeVec
	requestErrors        metric.CounterVec
}

func NewAPIInterceptor(namespace string, registerer metric.Registerer) (APIInterceptor, error) {
	methods := []string{methodLabel}
	a := &apiInterceptor{
		requestDurationCount: metric.NewCounterVec(
			metric.CounterOpts{
				Name: namespace + "_api_request_duration_count",
				Help: "Number of times each JSON-RPC method was called",
			},
			methods,
		),
		requestDurationSum: metric.NewGaugeVec(
			metric.GaugeOpts{
				Name: namespace + "_api_request_duration_sum",
				Help: "Nanoseconds spent handling each JSON-RPC method",
			},
			methods,
		),
		requestErrors: metric.NewCounterVec(
			metric.CounterOpts{
				Name: namespace + "_api_request_errors",
				Help: "Number of JSON-RPC calls that returned an error",
			},
			methods,
		),
	}
	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(a.requestDurationCount)),
		registerer.Register(metric.AsCollector(a.requestDurationSum)),
		registerer.Register(metric.AsCollector(a.requestErrors)),
	)
	return a, errs.Err
}

func (*apiInterceptor) InterceptRequest(i *rpc.RequestInfo) *http.Request {
	ctx := context.WithValue(i.Request.Context(), requestTimestampKey, time.Now())
	return i.Request.WithContext(ctx)
}

func (a *apiInterceptor) AfterRequest(i *rpc.RequestInfo) {
	timestamp, ok := i.Request.Context().Value(requestTimestampKey).(time.Time)
	if !ok {
		return
	}
	labels := metric.Labels{methodLabel: i.Method}
	a.requestDurationCount.With(labels).Inc()
	a.requestDurationSum.With(labels).Add(float64(time.Since(timestamp)))
	if i.Error != nil {
		a.requestErrors.With(labels).Inc()
	}
}
