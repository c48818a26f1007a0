// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

// ABIJSON is the contract interface clients encode calls against.
const ABIJSON = `[
  {"type":"function","name":"addCategoryPreference","stateMutability":"nonpayable",
   "inputs":[{"name":"categoryId","type":"uint32"},{"name":"encryptedCount","type":"bytes32"},{"name":"inputProof","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"batchAddPreferences","stateMutability":"nonpayable",
   "inputs":[{"name":"categoryIds","type":"uint32[]"},{"name":"encryptedCounts","type":"bytes32[]"},{"name":"inputProof","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"getEncryptedCategoryCount","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"categoryId","type":"uint32"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"hasInitialized","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"categoryId","type":"uint32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getUserCategories","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint32[]"}]},
  {"type":"function","name":"categoryExists","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"categoryId","type":"uint32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"CategoryPreferenceAdded","anonymous":false,
   "inputs":[{"name":"user","type":"address","indexed":true},{"name":"categoryId","type":"uint32","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]}
]`

const (
	MethodAddCategoryPreference     = "addCategoryPreference"
	MethodBatchAddPreferences       = "batchAddPreferences"
	MethodGetEncryptedCategoryCount = "getEncryptedCategoryCount"
	MethodHasInitialized            = "hasInitialized"
	MethodGetUserCategories         = "getUserCategories"
	MethodCategoryExists            = "categoryExists"

	EventCategoryPreferenceAdded = "CategoryPreferenceAdded"
)

var (
	ErrUnknownMethod = errors.New("unknown method selector")
	ErrNotView       = errors.New("method is not a view")
	ErrNotWrite      = errors.New("method is not a transaction")
	ErrInvalidNonce  = errors.New("invalid nonce")

	parsedABI = sync.OnceValues(func() (abi.ABI, error) {
		return abi.JSON(strings.NewReader(ABIJSON))
	})
)

// ABI returns the parsed contract interface.
func ABI() abi.ABI {
	parsed, err := parsedABI()
	if err != nil {
		panic(fmt.Sprintf("invalid ledger ABI: %v", err))
	}
	return parsed
}

// Execute applies ABI encoded calldata sent by from. The nonce must equal
// the sender's next nonce and is consumed whether or not the call reverts.
func (l *Ledger) Execute(from common.Address, nonce uint64, data []byte) (*Receipt, error) {
	l.txLock.Lock()
	defer l.txLock.Unlock()

	want, err := l.Nonce(from)
	if err != nil {
		return nil, err
	}
	if nonce != want {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, want, nonce)
	}
	if err := l.incrementNonce(from); err != nil {
		return nil, err
	}

	method, args, err := unpackCall(data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case MethodAddCategoryPreference:
		return l.AddCategoryPreference(from, args[0].(uint32), common.Hash(args[1].([32]byte)), args[2].([]byte))
	case MethodBatchAddPreferences:
		raw := args[1].([][32]byte)
		handles := make([]common.Hash, len(raw))
		for i, h := range raw {
			handles[i] = common.Hash(h)
		}
		return l.BatchAddPreferences(from, args[0].([]uint32), handles, args[2].([]byte))
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotWrite, method.Name)
	}
}

// Query evaluates a view call on behalf of from and returns the ABI encoded
// result.
func (l *Ledger) Query(from common.Address, data []byte) ([]byte, error) {
	method, args, err := unpackCall(data)
	if err != nil {
		return nil, err
	}

	var out any
	switch method.Name {
	case MethodGetEncryptedCategoryCount:
		var h common.Hash
		h, err = l.GetEncryptedCategoryCount(from, args[0].(common.Address), args[1].(uint32))
		out = [32]byte(h)
	case MethodHasInitialized:
		out, err = l.HasInitialized(from, args[0].(common.Address), args[1].(uint32))
	case MethodCategoryExists:
		out, err = l.CategoryExists(from, args[0].(common.Address), args[1].(uint32))
	case MethodGetUserCategories:
		out, err = l.GetUserCategories(from, args[0].(common.Address))
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotView, method.Name)
	}
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out)
}

func unpackCall(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, ErrUnknownMethod
	}
	parsed := ABI()
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %x", ErrUnknownMethod, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack %s: %w", method.Name, err)
	}
	return method, args, nil
}
