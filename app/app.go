// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app builds a preference store and everything behind it from a
// config.
package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/chain"
	"github.com/luxfi/readingvault/config"
	"github.com/luxfi/readingvault/fhevm"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/node"
	"github.com/luxfi/readingvault/preference"
	"github.com/luxfi/readingvault/relayer"
	"github.com/luxfi/readingvault/utils/rpc"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

var ErrChainMismatch = errors.New("chain id mismatch")

var (
	nodePrefix  = []byte("node")
	cachePrefix = []byte("cache")
)

// App owns one wallet's store and the resources it was built on.
type App struct {
	Config   config.Config
	Signer   *relayer.KeySigner
	Store    *preference.Store
	Metrics  metrics.Metrics
	Registry metric.Registry

	// Node is the in-process chain in local mode, nil otherwise.
	Node *node.Node

	db  database.Database
	log log.Logger

	// eth is dialed on the first connect and shared by later ones.
	ethLock sync.Mutex
	eth     *chain.EthBackend
}

// New builds the App described by c. Nothing is dialed until the store
// connects.
func New(c config.Config, logger log.Logger) (*App, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}

	registry := metric.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	db, err := node.OpenDB(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}

	a := &App{
		Config:   c,
		Signer:   relayer.NewKeySigner(key),
		Metrics:  m,
		Registry: registry,
		db:       db,
		log:      logger,
	}
	clock := &mockable.Clock{}

	loader, dial, err := a.backends(key, clock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	session := relayer.NewSession(loader, nil, relayer.SessionConfig{
		ChainID:     c.ChainID,
		LoadTimeout: c.LoadTimeout,
	}, logger)
	session.Observe(m.ObserveSDK)

	a.Store = preference.New(
		preference.Config{Contract: c.Contract()},
		dial,
		relayer.NewClient(session, clock, logger),
		preference.NewCache(prefixdb.New(cachePrefix, db), clock, c.CacheTTL),
		m,
		logger,
	)
	logger.Info("vault ready",
		log.String("mode", c.Mode),
		log.Stringer("account", a.Signer.Address()),
		log.Stringer("contract", c.Contract()),
		log.Bool("configured", a.Store.Configured()),
	)
	return a, nil
}

func (a *App) backends(key *ecdsa.PrivateKey, clock *mockable.Clock) (relayer.Loader, preference.Dialer, error) {
	c := a.Config
	contract := c.Contract()

	switch c.Mode {
	case config.ModeLocal:
		deployment := contract
		if deployment == (common.Address{}) {
			deployment = node.DefaultContract
		}
		n, err := node.New(prefixdb.New(nodePrefix, a.db), node.Config{
			ChainID:  c.ChainID,
			Contract: deployment,
			FHE:      c.FHE,
		}, clock, a.log)
		if err != nil {
			return nil, nil, err
		}
		a.Node = n
		dial := func(_ context.Context, account common.Address) (chain.Ledger, error) {
			return chain.NewContract(contract, chain.NewLocalBackend(n.Ledger(), account)), nil
		}
		return fhevm.NewLocal(n.Runtime(), c.ChainID), dial, nil

	case config.ModeNode:
		uri, err := url.Parse(c.NodeURL)
		if err != nil {
			return nil, nil, err
		}
		backend := chain.NewNodeBackend(rpc.NewRequester(uri, nil), key)
		dial := func(ctx context.Context, _ common.Address) (chain.Ledger, error) {
			chainID, err := backend.ChainID(ctx)
			if err != nil {
				return nil, err
			}
			if chainID != c.ChainID {
				return nil, fmt.Errorf("%w: node serves %d, configured %d", ErrChainMismatch, chainID, c.ChainID)
			}
			return chain.NewContract(contract, backend), nil
		}
		return fhevm.NewRemote(uri, nil), dial, nil

	case config.ModeEth:
		uri, err := url.Parse(c.RelayerURL)
		if err != nil {
			return nil, nil, err
		}
		dial := func(ctx context.Context, _ common.Address) (chain.Ledger, error) {
			backend, err := a.dialEth(ctx, key)
			if err != nil {
				return nil, err
			}
			return chain.NewContract(contract, backend), nil
		}
		return fhevm.NewRemote(uri, nil), dial, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, c.Mode)
	}
}

func (a *App) dialEth(ctx context.Context, key *ecdsa.PrivateKey) (*chain.EthBackend, error) {
	a.ethLock.Lock()
	defer a.ethLock.Unlock()

	if a.eth != nil {
		return a.eth, nil
	}
	backend, err := chain.DialEth(ctx, a.Config.RPCURL, key, a.log)
	if err != nil {
		return nil, err
	}
	a.eth = backend
	return backend, nil
}

// Connect attaches the configured wallet to the store.
func (a *App) Connect(ctx context.Context) error {
	return a.Store.Connect(ctx, a.Signer)
}

func (a *App) Close() error {
	a.ethLock.Lock()
	if a.eth != nil {
		a.eth.Close()
		a.eth = nil
	}
	a.ethLock.Unlock()
	return a.db.Close()
}
