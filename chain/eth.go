// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/ethclient"
	"github.com/luxfi/log"
)

// DefaultPollInterval is how often EthBackend polls for a receipt.
const DefaultPollInterval = time.Second

var _ Backend = (*EthBackend)(nil)

// EthClient is the subset of ethclient.Client used by EthBackend.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// EthBackend sends EIP-1559 transactions signed with key to an EVM endpoint
// and polls for receipts until ctx is done.
type EthBackend struct {
	client       EthClient
	key          *ecdsa.PrivateKey
	account      common.Address
	pollInterval time.Duration
	log          log.Logger

	sendLock sync.Mutex
	chainID  *big.Int
}

// DialEth connects to an EVM JSON-RPC endpoint.
func DialEth(ctx context.Context, url string, key *ecdsa.PrivateKey, logger log.Logger) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewEthBackend(client, key, logger), nil
}

func NewEthBackend(client EthClient, key *ecdsa.PrivateKey, logger log.Logger) *EthBackend {
	return &EthBackend{
		client:       client,
		key:          key,
		account:      common.PubkeyToAddress(key.PublicKey),
		pollInterval: DefaultPollInterval,
		log:          logger,
	}
}

// Close releases the connection when the client holds one.
func (b *EthBackend) Close() {
	if c, ok := b.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// SetPollInterval changes how often receipts are polled.
func (b *EthBackend) SetPollInterval(d time.Duration) {
	b.pollInterval = d
}

func (b *EthBackend) From() common.Address { return b.account }

func (b *EthBackend) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	return b.client.CodeAt(ctx, addr, nil)
}

func (b *EthBackend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{
		From: b.account,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, ethError(err)
	}
	return out, nil
}

func (b *EthBackend) Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	tx, err := b.signedTx(ctx, to, data)
	if err != nil {
		return nil, err
	}
	if err := b.client.SendTransaction(ctx, tx); err != nil {
		return nil, ethError(err)
	}
	b.log.Debug("transaction submitted",
		log.Stringer("hash", tx.Hash()),
		log.Uint64("nonce", tx.Nonce()),
	)
	return b.waitMined(ctx, tx.Hash())
}

func (b *EthBackend) signedTx(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	b.sendLock.Lock()
	defer b.sendLock.Unlock()

	if b.chainID == nil {
		id, err := b.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		b.chainID = id
	}
	nonce, err := b.client.PendingNonceAt(ctx, b.account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest tip: %w", err)
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From: b.account,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return nil, ethError(err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
}

func (b *EthBackend) waitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, &RevertError{Reason: "status 0 in " + hash.Hex()}
			}
			return &Receipt{TxHash: hash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func ethError(err error) error {
	if strings.Contains(err.Error(), "execution reverted") {
		return newRevertError(err)
	}
	return err
}
