// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package preference

import (
	"errors"

	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/chain"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/ledger"
	"github.com/luxfi/readingvault/relayer"
)

var (
	ErrNotConfigured  = errors.New("contract address not configured")
	ErrNotConnected   = errors.New("wallet not connected")
	ErrInvalidCount   = errors.New("count must be at least 1")
	ErrNoCategory     = errors.New("no category selected")
	ErrBatchTooLarge  = errors.New("batch exceeds the maximum number of categories")
	ErrNotInitialized = errors.New("no encrypted count for this category")
	ErrBusy           = errors.New("another operation is in progress")
)

// Class groups errors by how they are reported.
type Class uint8

const (
	Unknown Class = iota
	// Configuration errors block every mutating operation.
	Configuration
	// Connectivity errors ask the user to connect a wallet.
	Connectivity
	// Lifecycle errors come from loading the relayer SDK and are shown as
	// a persistent status. They may be retried.
	Lifecycle
	// Validation errors are rejected before any network call.
	Validation
	// OnChain errors are reverts, carrying the reason where available.
	OnChain
	// Authorization errors never reveal whether another owner's record
	// exists.
	Authorization
)

func (c Class) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Connectivity:
		return "connectivity"
	case Lifecycle:
		return "lifecycle"
	case Validation:
		return "validation"
	case OnChain:
		return "on-chain"
	case Authorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, ErrNotConfigured):
		return Configuration
	case errors.Is(err, ErrNotConnected):
		return Connectivity
	case relayer.Retryable(err), errors.Is(err, relayer.ErrNotReady):
		return Lifecycle
	case errors.Is(err, ErrInvalidCount),
		errors.Is(err, ErrNoCategory),
		errors.Is(err, ErrBatchTooLarge),
		errors.Is(err, ErrBusy),
		errors.Is(err, relayer.ErrMalformedHandle),
		errors.Is(err, relayer.ErrSignerMismatch),
		errors.Is(err, categories.ErrInvalidCategory):
		return Validation
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, fhe.ErrNotAllowed):
		return Authorization
	case errors.Is(err, chain.ErrReverted), errors.Is(err, chain.ErrNotDeployed):
		return OnChain
	default:
		return Unknown
	}
}
