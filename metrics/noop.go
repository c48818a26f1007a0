// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/luxfi/readingvault/relayer"
)

var _ Metrics = noop{}

// NewNoOp returns Metrics that record nothing.
func NewNoOp() Metrics { return noop{} }

type noop struct{}

func (noop) InterceptRequest(i *rpc.RequestInfo) *http.Request { return i.Request }

func (noop) AfterRequest(*rpc.RequestInfo) {}

func (noop) MarkSubmitted(int, error) {}

func (noop) MarkDecrypted(error) {}

func (noop) MarkCacheRestored(int) {}

func (noop) MarkCacheInvalidated() {}

func (noop) ObserveSDK(_, _ relayer.State) {}
