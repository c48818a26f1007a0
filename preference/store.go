// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package preference keeps a wallet's encrypted reading preferences in step
// with the ledger and decrypts them on request.
package preference

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/chain"
	"github.com/luxfi/readingvault/ledger"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/relayer"
)

// MaxBatchSize is the most categories one batch may carry.
const MaxBatchSize = ledger.MaxBatchSize

// handleFetchLimit bounds concurrent handle reads during a sync.
const handleFetchLimit = 4

// Dialer binds the ledger to the connected account.
type Dialer func(ctx context.Context, account common.Address) (chain.Ledger, error)

// Entry is one contribution of a batch.
type Entry struct {
	Category uint32 `json:"categoryId"`
	Count    int64  `json:"count"`
}

// Config configures a Store. A zero Contract leaves the store unconfigured.
type Config struct {
	Contract common.Address
}

// Snapshot is the store's state at one instant.
type Snapshot struct {
	Account    common.Address         `json:"account"`
	Contract   common.Address         `json:"contract"`
	Connected  bool                   `json:"connected"`
	Categories []uint32               `json:"categories"`
	Handles    map[uint32]common.Hash `json:"handles"`
	Decrypted  map[uint32]uint64      `json:"decrypted"`
	Busy       bool                   `json:"busy"`
	SDKState   relayer.State          `json:"sdkState"`
	SDKError   string                 `json:"sdkError,omitempty"`
	Message    string                 `json:"message"`
}

// Store orchestrates encryption, ledger writes and decryption for one
// connected wallet. Mutating operations are refused while another is in
// flight.
type Store struct {
	contract common.Address
	dial     Dialer
	client   *relayer.Client
	cache    *Cache
	metrics  metrics.Metrics
	log      log.Logger

	busy atomic.Bool

	lock       sync.RWMutex
	signer     relayer.Signer
	ledger     chain.Ledger
	categories []uint32
	handles    map[uint32]common.Hash
	decrypted  map[uint32]uint64
	message    string
}

func New(
	config Config,
	dial Dialer,
	client *relayer.Client,
	cache *Cache,
	m metrics.Metrics,
	logger log.Logger,
) *Store {
	s := &Store{
		contract:  config.Contract,
		dial:      dial,
		client:    client,
		cache:     cache,
		metrics:   m,
		log:       logger,
		handles:   map[uint32]common.Hash{},
		decrypted: map[uint32]uint64{},
	}
	if !s.Configured() {
		s.message = ErrNotConfigured.Error()
	}
	return s
}

// Configured reports whether a contract address was supplied.
func (s *Store) Configured() bool {
	return s.contract != (common.Address{})
}

// Connect attaches signer's account. It drops a cache recorded for another
// account or contract, restores this account's decrypted counts, brings the
// SDK up and syncs with the ledger. SDK failures are recorded in the state
// rather than returned.
func (s *Store) Connect(ctx context.Context, signer relayer.Signer) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	account := signer.Address()
	s.lock.Lock()
	s.signer = signer
	s.ledger = nil
	s.categories = nil
	s.handles = map[uint32]common.Hash{}
	s.decrypted = map[uint32]uint64{}
	s.lock.Unlock()

	if !s.Configured() {
		s.setMessage(ErrNotConfigured.Error())
		return nil
	}

	restored, err := s.restore(account)
	if err != nil {
		return s.fail("restore cache", err)
	}

	if err := s.client.Session().Ensure(ctx); err != nil {
		s.log.Warn("relayer sdk unavailable",
			log.Stringer("account", account),
			log.Err(err),
		)
	}

	l, err := s.dial(ctx, account)
	if err != nil {
		return s.fail("connect", err)
	}
	s.lock.Lock()
	s.ledger = l
	s.lock.Unlock()

	if err := s.sync(ctx); err != nil {
		return s.fail("sync", err)
	}
	msg := fmt.Sprintf("Connected %s", account.Hex())
	if restored > 0 {
		msg = fmt.Sprintf("Loaded %d preferences from storage", restored)
	}
	s.setMessage(msg)
	return nil
}

func (s *Store) restore(account common.Address) (int, error) {
	dropped, err := s.cache.Invalidate(account, s.contract)
	if err != nil {
		return 0, err
	}
	if dropped {
		s.metrics.MarkCacheInvalidated()
		s.log.Info("dropped cached counts",
			log.Stringer("account", account),
			log.Stringer("contract", s.contract),
		)
	}
	counts, err := s.cache.Load(account)
	if err != nil {
		return 0, err
	}
	s.lock.Lock()
	for id, v := range counts {
		s.decrypted[id] = v
	}
	s.lock.Unlock()
	if len(counts) > 0 {
		s.metrics.MarkCacheRestored(len(counts))
	}
	return len(counts), nil
}

// Disconnect forgets the account. The persisted cache is kept so the same
// account can restore it.
func (s *Store) Disconnect() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.signer = nil
	s.ledger = nil
	s.categories = nil
	s.handles = map[uint32]common.Hash{}
	s.decrypted = map[uint32]uint64{}
	s.message = "Disconnected"
}

// ReloadSDK discards the relayer SDK and brings it up again. It is the way
// out of a session left in Error.
func (s *Store) ReloadSDK(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	session := s.client.Session()
	session.Reset()
	if err := session.Ensure(ctx); err != nil {
		return s.fail("reload sdk", err)
	}
	s.setMessage("Relayer SDK reloaded")
	return nil
}

// AddCategoryPreference encrypts count and adds it to the caller's total for
// categoryID, then re-reads the caller's records from the ledger.
func (s *Store) AddCategoryPreference(ctx context.Context, categoryID uint32, count int64) (*chain.Receipt, error) {
	return s.AddCategoryPreferences(ctx, []Entry{{Category: categoryID, Count: count}})
}

// AddCategoryPreferences submits entries in one transaction. The ledger
// applies all of them or none.
func (s *Store) AddCategoryPreferences(ctx context.Context, entries []Entry) (*chain.Receipt, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	receipt, err := s.add(ctx, entries)
	s.metrics.MarkSubmitted(len(entries), err)
	if err != nil {
		return nil, s.fail("add preference", err)
	}
	return receipt, nil
}

func (s *Store) add(ctx context.Context, entries []Entry) (*chain.Receipt, error) {
	signer, l, err := s.connected()
	if err != nil {
		return nil, err
	}
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	if err := s.requireDeployed(ctx, l); err != nil {
		return nil, err
	}

	values := make([]uint32, len(entries))
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		ids[i] = e.Category
		values[i] = uint32(e.Count)
	}
	handles, proof, err := s.client.EncryptBatch(ctx, s.contract, signer.Address(), values)
	if err != nil {
		return nil, err
	}

	var receipt *chain.Receipt
	if len(entries) == 1 {
		receipt, err = l.AddCategoryPreference(ctx, ids[0], handles[0], proof)
	} else {
		receipt, err = l.BatchAddPreferences(ctx, ids, handles, proof)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("preferences confirmed",
		log.Stringer("account", signer.Address()),
		log.Int("entries", len(entries)),
		log.Stringer("tx", receipt.TxHash),
	)

	// Decrypted values of written categories are stale now.
	s.lock.Lock()
	for _, id := range ids {
		delete(s.decrypted, id)
	}
	decrypted := maps.Clone(s.decrypted)
	s.lock.Unlock()
	if err := s.cache.Store(signer.Address(), decrypted); err != nil {
		return nil, err
	}

	if err := s.sync(ctx); err != nil {
		return nil, err
	}
	s.setMessage(addedMessage(entries))
	return receipt, nil
}

func validateEntries(entries []Entry) error {
	switch {
	case len(entries) == 0:
		return ErrNoCategory
	case len(entries) > MaxBatchSize:
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(entries), MaxBatchSize)
	}
	for _, e := range entries {
		if e.Category == 0 {
			return ErrNoCategory
		}
		if e.Count < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidCount, e.Count)
		}
		if e.Count > math.MaxUint32 {
			return fmt.Errorf("%w: %d does not fit in 32 bits", ErrInvalidCount, e.Count)
		}
	}
	return nil
}

func addedMessage(entries []Entry) string {
	if len(entries) == 1 {
		return fmt.Sprintf("Added %d books to %s", entries[0].Count, categories.ID(entries[0].Category))
	}
	return fmt.Sprintf("Added %d preferences", len(entries))
}

// DecryptCategoryCount reveals the caller's current total for categoryID.
// The handle is always read fresh from the ledger.
func (s *Store) DecryptCategoryCount(ctx context.Context, categoryID uint32) (uint64, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer s.busy.Store(false)

	v, err := s.decrypt(ctx, categoryID)
	s.metrics.MarkDecrypted(err)
	if err != nil {
		return 0, s.fail("decrypt", err)
	}
	return v, nil
}

func (s *Store) decrypt(ctx context.Context, categoryID uint32) (uint64, error) {
	signer, l, err := s.connected()
	if err != nil {
		return 0, err
	}
	if categoryID == 0 {
		return 0, ErrNoCategory
	}
	if err := s.requireDeployed(ctx, l); err != nil {
		return 0, err
	}
	account := signer.Address()

	ok, err := l.HasInitialized(ctx, account, categoryID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotInitialized, categories.ID(categoryID))
	}
	handle, err := l.GetEncryptedCategoryCount(ctx, account, categoryID)
	if err != nil {
		return 0, err
	}
	if err := relayer.ValidateHandle(handle); err != nil {
		return 0, err
	}
	v, err := s.client.UserDecrypt(ctx, handle, s.contract, account, signer)
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	s.handles[categoryID] = handle
	s.decrypted[categoryID] = v
	decrypted := maps.Clone(s.decrypted)
	s.lock.Unlock()
	if err := s.cache.Store(account, decrypted); err != nil {
		return 0, err
	}
	s.setMessage(fmt.Sprintf("Decrypted %s: %d books", categories.ID(categoryID), v))
	return v, nil
}

// LoadUserCategories re-reads the caller's categories and handles.
func (s *Store) LoadUserCategories(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	if err := s.sync(ctx); err != nil {
		return s.fail("load categories", err)
	}
	s.lock.RLock()
	n := len(s.categories)
	s.lock.RUnlock()
	s.setMessage(fmt.Sprintf("Loaded %d categories", n))
	return nil
}

// sync replaces the category index and handles with what the ledger holds.
func (s *Store) sync(ctx context.Context) error {
	signer, l, err := s.connected()
	if err != nil {
		return err
	}
	if err := s.requireDeployed(ctx, l); err != nil {
		return err
	}
	account := signer.Address()
	ids, err := l.GetUserCategories(ctx, account)
	if err != nil {
		return err
	}

	handles := make([]common.Hash, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(handleFetchLimit)
	for i, id := range ids {
		eg.Go(func() error {
			h, err := l.GetEncryptedCategoryCount(egCtx, account, id)
			if err != nil {
				return fmt.Errorf("category %d: %w", id, err)
			}
			handles[i] = h
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.categories = slices.Clone(ids)
	s.handles = make(map[uint32]common.Hash, len(ids))
	for i, id := range ids {
		s.handles[id] = handles[i]
	}
	return nil
}

func (s *Store) requireDeployed(ctx context.Context, l chain.Ledger) error {
	deployed, err := l.Deployed(ctx)
	if err != nil {
		return err
	}
	if !deployed {
		return fmt.Errorf("%w at %s", chain.ErrNotDeployed, s.contract.Hex())
	}
	return nil
}

func (s *Store) connected() (relayer.Signer, chain.Ledger, error) {
	if !s.Configured() {
		return nil, nil, ErrNotConfigured
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.signer == nil || s.ledger == nil {
		return nil, nil, ErrNotConnected
	}
	return s.signer, s.ledger, nil
}

// State returns a copy of the current state.
func (s *Store) State() Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()

	snap := Snapshot{
		Contract:   s.contract,
		Connected:  s.signer != nil && s.ledger != nil,
		Categories: slices.Clone(s.categories),
		Handles:    maps.Clone(s.handles),
		Decrypted:  maps.Clone(s.decrypted),
		Busy:       s.busy.Load(),
		SDKState:   s.client.Session().State(),
		Message:    s.message,
	}
	if s.signer != nil {
		snap.Account = s.signer.Address()
	}
	if err := s.client.Session().Err(); err != nil {
		snap.SDKError = err.Error()
	}
	return snap
}

// Message is the status line of the last operation.
func (s *Store) Message() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.message
}

func (s *Store) setMessage(msg string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.message = msg
}

func (s *Store) fail(op string, err error) error {
	s.setMessage(err.Error())
	s.log.Debug("operation failed",
		log.String("op", op),
		log.Stringer("class", Classify(err)),
		log.Err(err),
	)
	return err
}
