// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain gives clients typed access to a deployed ciphertext ledger
// through an in-process ledger, the development node, or an EVM endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/ledger"
)

var (
	ErrReverted    = errors.New("transaction reverted")
	ErrNotDeployed = errors.New("contract not deployed")
	ErrNoAccount   = errors.New("no sending account")

	// revertReasons maps reasons surfaced as text by remote backends onto
	// the ledger's errors.
	revertReasons = []error{
		ledger.ErrUnauthorized,
		ledger.ErrBatchTooLarge,
		ledger.ErrEmptyBatch,
		ledger.ErrLengthMismatch,
		ledger.ErrZeroCategory,
		ledger.ErrInvalidNonce,
	}
)

// Receipt confirms a write was included.
type Receipt struct {
	TxHash      common.Hash `json:"transactionHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Ledger is the ciphertext ledger as seen by one sending account. Writes
// return once the chain has confirmed them; the wait is bounded only by
// ctx.
type Ledger interface {
	Address() common.Address
	Account() common.Address
	Deployed(ctx context.Context) (bool, error)

	AddCategoryPreference(ctx context.Context, categoryID uint32, handle common.Hash, proof []byte) (*Receipt, error)
	BatchAddPreferences(ctx context.Context, categoryIDs []uint32, handles []common.Hash, proof []byte) (*Receipt, error)

	GetEncryptedCategoryCount(ctx context.Context, owner common.Address, categoryID uint32) (common.Hash, error)
	HasInitialized(ctx context.Context, owner common.Address, categoryID uint32) (bool, error)
	GetUserCategories(ctx context.Context, owner common.Address) ([]uint32, error)
	CategoryExists(ctx context.Context, owner common.Address, categoryID uint32) (bool, error)
}

// Backend moves ABI encoded calls to a chain.
type Backend interface {
	// From is the account calls and transactions are sent from.
	From() common.Address
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Send submits a transaction and waits for its receipt.
	Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error)
}

// RevertError carries the reason a call or transaction was rejected.
type RevertError struct {
	Reason string
	cause  error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrReverted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrReverted, e.Reason)
}

func (e *RevertError) Is(target error) bool {
	return target == ErrReverted || (e.cause != nil && errors.Is(e.cause, target))
}

func (e *RevertError) Unwrap() error { return e.cause }

// newRevertError wraps a rejection, recovering the ledger sentinel from the
// reason text when the original error did not survive transport.
func newRevertError(err error) error {
	if err == nil {
		return nil
	}
	reason := strings.TrimPrefix(err.Error(), "execution reverted: ")
	cause := err
	if !isLedgerError(err) {
		for _, known := range revertReasons {
			if strings.Contains(reason, known.Error()) {
				cause = known
				break
			}
		}
	}
	return &RevertError{Reason: reason, cause: cause}
}

func isLedgerError(err error) bool {
	for _, known := range revertReasons {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
