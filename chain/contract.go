// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"fmt"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/ledger"
)

var _ Ledger = (*Contract)(nil)

// Contract implements Ledger by ABI encoding calls over a Backend.
type Contract struct {
	address common.Address
	backend Backend
	abi     abi.ABI
}

func NewContract(address common.Address, backend Backend) *Contract {
	return &Contract{
		address: address,
		backend: backend,
		abi:     ledger.ABI(),
	}
}

func (c *Contract) Address() common.Address { return c.address }

func (c *Contract) Account() common.Address { return c.backend.From() }

// Deployed reports whether code exists at the contract address.
func (c *Contract) Deployed(ctx context.Context) (bool, error) {
	code, err := c.backend.Code(ctx, c.address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (c *Contract) AddCategoryPreference(ctx context.Context, categoryID uint32, handle common.Hash, proof []byte) (*Receipt, error) {
	return c.transact(ctx, ledger.MethodAddCategoryPreference, categoryID, [32]byte(handle), proof)
}

func (c *Contract) BatchAddPreferences(ctx context.Context, categoryIDs []uint32, handles []common.Hash, proof []byte) (*Receipt, error) {
	raw := make([][32]byte, len(handles))
	for i, h := range handles {
		raw[i] = h
	}
	return c.transact(ctx, ledger.MethodBatchAddPreferences, categoryIDs, raw, proof)
}

func (c *Contract) GetEncryptedCategoryCount(ctx context.Context, owner common.Address, categoryID uint32) (common.Hash, error) {
	out, err := c.call(ctx, ledger.MethodGetEncryptedCategoryCount, owner, categoryID)
	if err != nil {
		return common.Hash{}, err
	}
	h, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected %s result %T", ledger.MethodGetEncryptedCategoryCount, out[0])
	}
	return h, nil
}

func (c *Contract) HasInitialized(ctx context.Context, owner common.Address, categoryID uint32) (bool, error) {
	return c.callBool(ctx, ledger.MethodHasInitialized, owner, categoryID)
}

func (c *Contract) CategoryExists(ctx context.Context, owner common.Address, categoryID uint32) (bool, error) {
	return c.callBool(ctx, ledger.MethodCategoryExists, owner, categoryID)
}

func (c *Contract) GetUserCategories(ctx context.Context, owner common.Address) ([]uint32, error) {
	out, err := c.call(ctx, ledger.MethodGetUserCategories, owner)
	if err != nil {
		return nil, err
	}
	ids, ok := out[0].([]uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", ledger.MethodGetUserCategories, out[0])
	}
	return ids, nil
}

func (c *Contract) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result %T", method, out[0])
	}
	return b, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	result, err := c.backend.Call(ctx, c.address, data)
	if err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return out, nil
}

func (c *Contract) transact(ctx context.Context, method string, args ...any) (*Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return c.backend.Send(ctx, c.address, data)
}
