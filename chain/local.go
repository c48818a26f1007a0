// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/ledger"
)

var _ Backend = (*LocalBackend)(nil)

// LocalBackend sends calls straight into an in-process ledger as account.
type LocalBackend struct {
	ledger  *ledger.Ledger
	account common.Address
}

func NewLocalBackend(l *ledger.Ledger, account common.Address) *LocalBackend {
	return &LocalBackend{
		ledger:  l,
		account: account,
	}
}

// NewLocal returns a Ledger bound to account on an in-process ledger.
func NewLocal(l *ledger.Ledger, account common.Address) *Contract {
	return NewContract(l.Address(), NewLocalBackend(l, account))
}

func (b *LocalBackend) From() common.Address { return b.account }

func (b *LocalBackend) Code(_ context.Context, addr common.Address) ([]byte, error) {
	return b.ledger.Code(addr), nil
}

func (b *LocalBackend) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	if len(b.ledger.Code(to)) == 0 {
		return nil, nil
	}
	out, err := b.ledger.Query(b.account, data)
	return out, newRevertError(err)
}

func (b *LocalBackend) Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.ledger.Code(to)) == 0 {
		return nil, ErrNotDeployed
	}
	nonce, err := b.ledger.Nonce(b.account)
	if err != nil {
		return nil, err
	}
	r, err := b.ledger.Execute(b.account, nonce, data)
	if err != nil {
		return nil, newRevertError(err)
	}
	return &Receipt{TxHash: r.TxHash, BlockNumber: r.BlockNumber}, nil
}
