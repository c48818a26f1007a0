// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the ciphertext ledger contract: per (owner,
// category) ciphertext handles that accumulate homomorphically, a per-owner
// category index, and owner-only reads.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

// MaxBatchSize is the largest batchAddPreferences call accepted.
const MaxBatchSize = 10

var (
	recordPrefix  = []byte{'r'}
	indexPrefix   = []byte{'i'}
	noncePrefix   = []byte{'n'}
	receiptPrefix = []byte{'x'}
	heightKey     = []byte{'h'}

	ErrBatchTooLarge  = errors.New("batch size exceeds maximum")
	ErrEmptyBatch     = errors.New("empty batch")
	ErrLengthMismatch = errors.New("categories and handles length mismatch")
	ErrUnauthorized   = errors.New("caller is not the record owner")
	ErrZeroCategory   = errors.New("category id must be non-zero")
	ErrNotFound       = errors.New("not found")
)

// Executor is the FHE co-processor the contract runs against.
type Executor interface {
	// FromExternal verifies handle against proof for (contract, user) and
	// returns the handle the contract may use.
	FromExternal(contract, user common.Address, handle common.Hash, proof []byte) (common.Hash, error)
	// Add returns the handle of a + b.
	Add(contract common.Address, a, b common.Hash) (common.Hash, error)
	// Allow grants account use of handle.
	Allow(handle common.Hash, account common.Address) error
}

// StagedExecutor holds back an Executor's writes until Commit.
type StagedExecutor interface {
	Executor
	Commit() error
	Abort()
}

// Stager is implemented by executors whose writes can be staged per block,
// so a rejected block leaves no ciphertexts or grants behind.
type Stager interface {
	Stage() StagedExecutor
}

// CategoryPreferenceAdded is emitted for every accepted contribution.
type CategoryPreferenceAdded struct {
	User       common.Address `json:"user"`
	CategoryID uint32         `json:"categoryId"`
	Timestamp  uint64         `json:"timestamp"`
}

// Receipt confirms an applied write.
type Receipt struct {
	TxHash      common.Hash               `json:"transactionHash"`
	BlockNumber uint64                    `json:"blockNumber"`
	From        common.Address            `json:"from"`
	Events      []CategoryPreferenceAdded `json:"events"`
}

// Config identifies a deployed ledger.
type Config struct {
	Address common.Address `json:"address"`
	ChainID uint64         `json:"chainID"`
}

// Ledger is the contract state machine. Writes are sequenced one per block.
type Ledger struct {
	address common.Address
	chainID uint64
	fhe     Executor
	db      database.Database
	clock   *mockable.Clock
	log     log.Logger

	// txLock orders nonce checks with the writes they admit.
	txLock sync.Mutex
	lock   sync.Mutex
	height uint64
	feed   event.Feed
}

func New(db database.Database, config Config, fhe Executor, clock *mockable.Clock, logger log.Logger) (*Ledger, error) {
	l := &Ledger{
		address: config.Address,
		chainID: config.ChainID,
		fhe:     fhe,
		db:      db,
		clock:   clock,
		log:     logger,
	}
	raw, err := db.Get(heightKey)
	switch {
	case err == nil:
		l.height = binary.BigEndian.Uint64(raw)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("failed to load height: %w", err)
	}
	return l, nil
}

func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) ChainID() uint64 { return l.chainID }

// Height is the number of the last applied block.
func (l *Ledger) Height() uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.height
}

// Code returns the deployed code marker for addr, or nil when nothing is
// deployed there.
func (l *Ledger) Code(addr common.Address) []byte {
	if addr != l.address {
		return nil
	}
	return crypto.Keccak256([]byte(ABIJSON))
}

// SubscribeEvents delivers every CategoryPreferenceAdded emitted after the
// call.
func (l *Ledger) SubscribeEvents(ch chan<- CategoryPreferenceAdded) event.Subscription {
	return l.feed.Subscribe(ch)
}

// AddCategoryPreference records an encrypted contribution for caller.
func (l *Ledger) AddCategoryPreference(caller common.Address, categoryID uint32, handle common.Hash, proof []byte) (*Receipt, error) {
	return l.apply(caller, func(db database.Database, exec Executor, now uint64) ([]CategoryPreferenceAdded, error) {
		ev, err := l.contribute(db, exec, caller, categoryID, handle, proof, now)
		if err != nil {
			return nil, err
		}
		return []CategoryPreferenceAdded{ev}, nil
	})
}

// BatchAddPreferences records up to MaxBatchSize contributions under one
// proof. Either every entry applies or none do.
func (l *Ledger) BatchAddPreferences(caller common.Address, categoryIDs []uint32, handles []common.Hash, proof []byte) (*Receipt, error) {
	switch {
	case len(categoryIDs) > MaxBatchSize:
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(categoryIDs), MaxBatchSize)
	case len(categoryIDs) == 0:
		return nil, ErrEmptyBatch
	case len(categoryIDs) != len(handles):
		return nil, ErrLengthMismatch
	}
	return l.apply(caller, func(db database.Database, exec Executor, now uint64) ([]CategoryPreferenceAdded, error) {
		events := make([]CategoryPreferenceAdded, 0, len(categoryIDs))
		for i, cat := range categoryIDs {
			ev, err := l.contribute(db, exec, caller, cat, handles[i], proof, now)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			events = append(events, ev)
		}
		return events, nil
	})
}

// apply runs fn against a version layer and commits it as the next block.
// When the executor is a Stager its writes commit with the block.
func (l *Ledger) apply(caller common.Address, fn func(database.Database, Executor, uint64) ([]CategoryPreferenceAdded, error)) (*Receipt, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	vdb := versiondb.New(l.db)
	defer vdb.Abort()

	exec := l.fhe
	var staged StagedExecutor
	if stager, ok := l.fhe.(Stager); ok {
		staged = stager.Stage()
		defer staged.Abort()
		exec = staged
	}

	now := l.clock.Unix()
	events, err := fn(vdb, exec, now)
	if err != nil {
		return nil, err
	}

	height := l.height + 1
	receipt := &Receipt{
		TxHash:      txHash(l.chainID, height, caller),
		BlockNumber: height,
		From:        caller,
		Events:      events,
	}
	if err := putReceipt(vdb, receipt); err != nil {
		return nil, err
	}
	if err := vdb.Put(heightKey, binary.BigEndian.AppendUint64(nil, height)); err != nil {
		return nil, err
	}
	if staged != nil {
		if err := staged.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit executor state for block %d: %w", height, err)
		}
	}
	if err := vdb.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit block %d: %w", height, err)
	}
	l.height = height

	for _, ev := range events {
		l.feed.Send(ev)
	}
	l.log.Debug("block applied",
		log.Uint64("height", height),
		log.Stringer("from", caller),
		log.Int("events", len(events)),
	)
	return receipt, nil
}

func (l *Ledger) contribute(db database.Database, exec Executor, caller common.Address, categoryID uint32, input common.Hash, proof []byte, now uint64) (CategoryPreferenceAdded, error) {
	if categoryID == 0 {
		return CategoryPreferenceAdded{}, ErrZeroCategory
	}
	value, err := exec.FromExternal(l.address, caller, input, proof)
	if err != nil {
		return CategoryPreferenceAdded{}, err
	}

	current, found, err := getRecord(db, caller, categoryID)
	if err != nil {
		return CategoryPreferenceAdded{}, err
	}
	next := value
	if found {
		next, err = exec.Add(l.address, current, value)
		if err != nil {
			return CategoryPreferenceAdded{}, err
		}
	} else if err := appendIndex(db, caller, categoryID); err != nil {
		return CategoryPreferenceAdded{}, err
	}

	if err := exec.Allow(next, l.address); err != nil {
		return CategoryPreferenceAdded{}, err
	}
	if err := exec.Allow(next, caller); err != nil {
		return CategoryPreferenceAdded{}, err
	}
	if err := db.Put(recordKey(caller, categoryID), next[:]); err != nil {
		return CategoryPreferenceAdded{}, err
	}
	return CategoryPreferenceAdded{
		User:       caller,
		CategoryID: categoryID,
		Timestamp:  now,
	}, nil
}

// ========================
// Reads
// ========================

// GetEncryptedCategoryCount returns owner's handle for categoryID, or the
// zero handle when uninitialized. Only the owner may read it.
func (l *Ledger) GetEncryptedCategoryCount(caller, owner common.Address, categoryID uint32) (common.Hash, error) {
	if caller != owner {
		return common.Hash{}, ErrUnauthorized
	}
	handle, _, err := getRecord(l.db, owner, categoryID)
	return handle, err
}

// HasInitialized reports whether owner has ever contributed to categoryID.
func (l *Ledger) HasInitialized(caller, owner common.Address, categoryID uint32) (bool, error) {
	if caller != owner {
		return false, ErrUnauthorized
	}
	return l.db.Has(recordKey(owner, categoryID))
}

// CategoryExists is HasInitialized under the name the UI uses.
func (l *Ledger) CategoryExists(caller, owner common.Address, categoryID uint32) (bool, error) {
	return l.HasInitialized(caller, owner, categoryID)
}

// GetUserCategories returns owner's categories in first-write order.
func (l *Ledger) GetUserCategories(caller, owner common.Address) ([]uint32, error) {
	if caller != owner {
		return nil, ErrUnauthorized
	}
	return getIndex(l.db, owner)
}

// Nonce returns the next transaction nonce for addr.
func (l *Ledger) Nonce(addr common.Address) (uint64, error) {
	raw, err := l.db.Get(nonceKey(addr))
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (l *Ledger) incrementNonce(addr common.Address) error {
	n, err := l.Nonce(addr)
	if err != nil {
		return err
	}
	return l.db.Put(nonceKey(addr), binary.BigEndian.AppendUint64(nil, n+1))
}

// Receipt returns the receipt of an applied write.
func (l *Ledger) Receipt(txHash common.Hash) (*Receipt, error) {
	return getReceipt(l.db, txHash)
}

func txHash(chainID, height uint64, caller common.Address) common.Hash {
	buf := binary.BigEndian.AppendUint64(nil, chainID)
	buf = binary.BigEndian.AppendUint64(buf, height)
	return common.Keccak256Hash(buf, caller[:])
}
