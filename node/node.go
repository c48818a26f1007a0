// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node runs a development chain: an FHE runtime and one ledger
// deployment sharing a database, served together over JSON-RPC.
package node

import (
	"context"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/ledger"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/relayer"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

// DefaultContract is where the first deployment of the development
// account lands on local chains.
var DefaultContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

var (
	runtimePrefix = []byte("fhe")
	ledgerPrefix  = []byte("ledger")
)

type Config struct {
	ChainID  uint64         `json:"chainID"`
	Contract common.Address `json:"contract"`
	FHE      fhe.Config     `json:"fhe"`
}

func DefaultConfig() Config {
	return Config{
		ChainID:  relayer.LocalChainID,
		Contract: DefaultContract,
		FHE:      fhe.DefaultConfig(),
	}
}

type Node struct {
	runtime *fhe.Runtime
	ledger  *ledger.Ledger
	log     log.Logger
}

// stagingRuntime commits runtime writes together with the ledger block that
// made them.
type stagingRuntime struct {
	*fhe.Runtime
}

func (r stagingRuntime) Stage() ledger.StagedExecutor {
	return r.Runtime.Stage()
}

// OpenDB opens a badger database under dir, or an in-memory one when dir
// is empty.
func OpenDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	return badgerdb.New(dir, nil, "", nil)
}

// New deploys the ledger at config.Contract over a runtime keyed on db.
// Both reuse any state already in db.
func New(db database.Database, config Config, clock *mockable.Clock, logger log.Logger) (*Node, error) {
	runtime, err := fhe.NewRuntime(
		prefixdb.New(runtimePrefix, db),
		fhe.RuntimeConfig{ChainID: config.ChainID, FHE: config.FHE},
		clock,
		logger,
	)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(
		prefixdb.New(ledgerPrefix, db),
		ledger.Config{Address: config.Contract, ChainID: config.ChainID},
		stagingRuntime{runtime},
		clock,
		logger,
	)
	if err != nil {
		return nil, err
	}
	logger.Info("node started",
		log.Uint64("chainID", config.ChainID),
		log.Stringer("contract", config.Contract),
		log.Stringer("verifier", runtime.VerifierAddress()),
		log.Uint64("height", l.Height()),
	)
	return &Node{
		runtime: runtime,
		ledger:  l,
		log:     logger,
	}, nil
}

func (n *Node) Runtime() *fhe.Runtime { return n.runtime }

func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Handler serves the relayer and the ledger on one JSON-RPC endpoint.
func (n *Node) Handler(interceptor metrics.APIInterceptor) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)
	if err := server.RegisterService(fhe.NewService(n.runtime, n.log), fhe.ServiceName); err != nil {
		return nil, err
	}
	if err := server.RegisterService(ledger.NewService(n.ledger, n.log), ledger.ServiceName); err != nil {
		return nil, err
	}
	return server, nil
}

// Watch subscribes to ledger events. Events emitted after Watch returns are
// delivered once the watcher runs.
func (n *Node) Watch(handle func(ledger.CategoryPreferenceAdded)) *Watcher {
	events := make(chan ledger.CategoryPreferenceAdded, 16)
	return &Watcher{
		sub:    n.ledger.SubscribeEvents(events),
		events: events,
		handle: handle,
		log:    n.log,
	}
}

// Watcher logs ledger events. Only the user and the category are public;
// counts never leave the runtime.
type Watcher struct {
	sub    event.Subscription
	events chan ledger.CategoryPreferenceAdded
	handle func(ledger.CategoryPreferenceAdded)
	log    log.Logger
}

// Run consumes events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.sub.Unsubscribe()
	for {
		select {
		case ev := <-w.events:
			w.log.Info("CategoryPreferenceAdded",
				log.Stringer("user", ev.User),
				log.Uint32("categoryID", ev.CategoryID),
				log.Uint64("timestamp", ev.Timestamp),
			)
			if w.handle != nil {
				w.handle(ev)
			}
		case err := <-w.sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
