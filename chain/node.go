// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/ledger"
	"github.com/luxfi/readingvault/utils/rpc"
)

var _ Backend = (*NodeBackend)(nil)

// NodeBackend talks to the ledger service of a development node, signing
// each write and each view call with key.
type NodeBackend struct {
	requester rpc.Requester
	key       *ecdsa.PrivateKey
	account   common.Address

	// sendLock keeps nonce assignment in submission order.
	sendLock sync.Mutex

	chainIDLock sync.Mutex
	chainID     uint64
}

func NewNodeBackend(requester rpc.Requester, key *ecdsa.PrivateKey) *NodeBackend {
	return &NodeBackend{
		requester: requester,
		key:       key,
		account:   common.PubkeyToAddress(key.PublicKey),
	}
}

func (b *NodeBackend) From() common.Address { return b.account }

func (b *NodeBackend) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	var reply ledger.GetCodeReply
	if err := b.requester.SendRequest(ctx, ledger.ServiceName+".GetCode", &ledger.AddressArgs{Address: addr}, &reply); err != nil {
		return nil, err
	}
	return reply.Code, nil
}

func (b *NodeBackend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(ledger.CallDigest(chainID, to, data), b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign call: %w", err)
	}

	var reply ledger.CallReply
	err = b.requester.SendRequest(ctx, ledger.ServiceName+".Call", &ledger.CallArgs{
		From:      b.account,
		To:        to,
		Data:      data,
		Signature: sig,
	}, &reply)
	if err != nil {
		return nil, remoteError(err)
	}
	return reply.Result, nil
}

func (b *NodeBackend) Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	b.sendLock.Lock()
	defer b.sendLock.Unlock()

	var nonce ledger.GetNonceReply
	if err := b.requester.SendRequest(ctx, ledger.ServiceName+".GetNonce", &ledger.AddressArgs{Address: b.account}, &nonce); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(ledger.TxDigest(chainID, to, nonce.Nonce, data), b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	var reply ledger.SendTransactionReply
	err = b.requester.SendRequest(ctx, ledger.ServiceName+".SendTransaction", &ledger.SendTransactionArgs{
		From:      b.account,
		To:        to,
		Nonce:     nonce.Nonce,
		Data:      data,
		Signature: sig,
	}, &reply)
	if err != nil {
		return nil, remoteError(err)
	}
	return &Receipt{TxHash: reply.Receipt.TxHash, BlockNumber: reply.Receipt.BlockNumber}, nil
}

// ChainID returns the node's chain id. It is fetched on first success and
// cached.
func (b *NodeBackend) ChainID(ctx context.Context) (uint64, error) {
	b.chainIDLock.Lock()
	defer b.chainIDLock.Unlock()

	if b.chainID != 0 {
		return b.chainID, nil
	}
	var info ledger.InfoReply
	if err := b.requester.SendRequest(ctx, ledger.ServiceName+".Info", &ledger.InfoArgs{}, &info); err != nil {
		return 0, err
	}
	b.chainID = info.ChainID
	return b.chainID, nil
}

// remoteError turns a server side JSON-RPC error into a revert. Transport
// errors are returned as they are.
func remoteError(err error) error {
	var rpcErr *json2.Error
	if errors.As(err, &rpcErr) {
		return newRevertError(errors.New(rpcErr.Message))
	}
	return err
}
