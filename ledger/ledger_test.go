// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

var (
	contractAddr = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	alice        = common.HexToAddress("0xa11ce")
	bob          = common.HexToAddress("0xb0b")

	validProof  = []byte("proof")
	errBadProof = errors.New("bad proof")
)

// fakeFHE keeps plaintexts in the clear so tests can check accumulation.
type fakeFHE struct {
	values  map[common.Hash]uint32
	allowed map[common.Hash]map[common.Address]bool
	next    uint64
}

func newFakeFHE() *fakeFHE {
	return &fakeFHE{
		values:  map[common.Hash]uint32{},
		allowed: map[common.Hash]map[common.Address]bool{},
	}
}

func (f *fakeFHE) input(v uint32) common.Hash {
	f.next++
	h := handleOf(f.next)
	f.values[h] = v
	return h
}

func (f *fakeFHE) FromExternal(contract, _ common.Address, handle common.Hash, proof []byte) (common.Hash, error) {
	if !bytes.Equal(proof, validProof) {
		return common.Hash{}, errBadProof
	}
	if _, ok := f.values[handle]; !ok {
		return common.Hash{}, errBadProof
	}
	f.grant(handle, contract)
	return handle, nil
}

func (f *fakeFHE) Add(contract common.Address, a, b common.Hash) (common.Hash, error) {
	if !f.allowed[a][contract] || !f.allowed[b][contract] {
		return common.Hash{}, errors.New("not allowed")
	}
	return f.input(f.values[a] + f.values[b]), nil
}

func (f *fakeFHE) Allow(handle common.Hash, account common.Address) error {
	f.grant(handle, account)
	return nil
}

func (f *fakeFHE) grant(handle common.Hash, account common.Address) {
	if f.allowed[handle] == nil {
		f.allowed[handle] = map[common.Address]bool{}
	}
	f.allowed[handle][account] = true
}

func newTestLedger(t *testing.T) (*Ledger, *fakeFHE) {
	t.Helper()
	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))
	fhe := newFakeFHE()
	l, err := New(memdb.New(), Config{Address: contractAddr, ChainID: 31337}, fhe, clock, log.NewNoOpLogger())
	require.NoError(t, err)
	return l, fhe
}

func (f *fakeFHE) valueOf(t *testing.T, l *Ledger, owner common.Address, cat uint32) uint32 {
	t.Helper()
	h, err := l.GetEncryptedCategoryCount(owner, owner, cat)
	require.NoError(t, err)
	return f.values[h]
}

func TestAddCategoryPreferenceAccumulates(t *testing.T) {
	require := require.New(t)
	l, fhe := newTestLedger(t)

	first := fhe.input(5)
	receipt, err := l.AddCategoryPreference(alice, 1, first, validProof)
	require.NoError(err)
	require.Equal(uint64(1), receipt.BlockNumber)
	require.Equal([]CategoryPreferenceAdded{{User: alice, CategoryID: 1, Timestamp: 1_700_000_000}}, receipt.Events)

	h1, err := l.GetEncryptedCategoryCount(alice, alice, 1)
	require.NoError(err)
	require.Equal(first, h1)

	_, err = l.AddCategoryPreference(alice, 1, fhe.input(3), validProof)
	require.NoError(err)

	h2, err := l.GetEncryptedCategoryCount(alice, alice, 1)
	require.NoError(err)
	require.NotEqual(h1, h2)
	require.Equal(uint32(8), fhe.values[h2])
	require.True(fhe.allowed[h2][alice])
	require.True(fhe.allowed[h2][contractAddr])

	cats, err := l.GetUserCategories(alice, alice)
	require.NoError(err)
	require.Equal([]uint32{1}, cats)
	require.Equal(uint64(2), l.Height())

	got, err := l.Receipt(receipt.TxHash)
	require.NoError(err)
	require.Equal(receipt, got)
}

func TestOwnersAreIndependent(t *testing.T) {
	require := require.New(t)
	l, fhe := newTestLedger(t)

	_, err := l.AddCategoryPreference(alice, 1, fhe.input(5), validProof)
	require.NoError(err)
	_, err = l.AddCategoryPreference(alice, 1, fhe.input(3), validProof)
	require.NoError(err)
	_, err = l.AddCategoryPreference(bob, 1, fhe.input(2), validProof)
	require.NoError(err)

	require.Equal(uint32(8), fhe.valueOf(t, l, alice, 1))
	require.Equal(uint32(2), fhe.valueOf(t, l, bob, 1))
}

func TestUninitialized(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger(t)

	for _, cat := range []uint32{1, 8, 42} {
		ok, err := l.HasInitialized(alice, alice, cat)
		require.NoError(err)
		require.False(ok)

		h, err := l.GetEncryptedCategoryCount(alice, alice, cat)
		require.NoError(err)
		require.Equal(common.Hash{}, h)
	}
	cats, err := l.GetUserCategories(alice, alice)
	require.NoError(err)
	require.Empty(cats)
}

func TestReadsAreOwnerOnly(t *testing.T) {
	l, fhe := newTestLedger(t)
	_, err := l.AddCategoryPreference(alice, 1, fhe.input(5), validProof)
	require.NoError(t, err)

	// the same error whether or not the record exists
	for _, cat := range []uint32{1, 2} {
		_, err := l.GetEncryptedCategoryCount(bob, alice, cat)
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = l.HasInitialized(bob, alice, cat)
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = l.CategoryExists(bob, alice, cat)
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	_, err = l.GetUserCategories(bob, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBatchAddPreferences(t *testing.T) {
	t.Run("applies every entry", func(t *testing.T) {
		require := require.New(t)
		l, fhe := newTestLedger(t)

		cats := []uint32{1, 2, 3, 2}
		handles := []common.Hash{fhe.input(1), fhe.input(2), fhe.input(3), fhe.input(4)}
		receipt, err := l.BatchAddPreferences(alice, cats, handles, validProof)
		require.NoError(err)
		require.Len(receipt.Events, 4)

		got, err := l.GetUserCategories(alice, alice)
		require.NoError(err)
		require.Equal([]uint32{1, 2, 3}, got)
		require.Equal(uint32(6), fhe.valueOf(t, l, alice, 2))
	})

	t.Run("too large", func(t *testing.T) {
		require := require.New(t)
		l, fhe := newTestLedger(t)

		cats := make([]uint32, MaxBatchSize+1)
		handles := make([]common.Hash, MaxBatchSize+1)
		for i := range cats {
			cats[i] = uint32(i + 1)
			handles[i] = fhe.input(1)
		}
		_, err := l.BatchAddPreferences(alice, cats, handles, validProof)
		require.ErrorIs(err, ErrBatchTooLarge)

		got, err := l.GetUserCategories(alice, alice)
		require.NoError(err)
		require.Empty(got)
		require.Zero(l.Height())
	})

	t.Run("maximum size", func(t *testing.T) {
		require := require.New(t)
		l, fhe := newTestLedger(t)

		cats := make([]uint32, MaxBatchSize)
		handles := make([]common.Hash, MaxBatchSize)
		for i := range cats {
			cats[i] = uint32(i + 1)
			handles[i] = fhe.input(uint32(i))
		}
		_, err := l.BatchAddPreferences(alice, cats, handles, validProof)
		require.NoError(err)

		got, err := l.GetUserCategories(alice, alice)
		require.NoError(err)
		require.Equal(cats, got)
	})

	t.Run("failing entry reverts the batch", func(t *testing.T) {
		require := require.New(t)
		l, fhe := newTestLedger(t)

		_, err := l.AddCategoryPreference(alice, 1, fhe.input(5), validProof)
		require.NoError(err)

		unknown := common.HexToHash("0xdead")
		_, err = l.BatchAddPreferences(alice, []uint32{1, 2, 3}, []common.Hash{fhe.input(1), fhe.input(1), unknown}, validProof)
		require.ErrorIs(err, errBadProof)

		got, err := l.GetUserCategories(alice, alice)
		require.NoError(err)
		require.Equal([]uint32{1}, got)
		require.Equal(uint32(5), fhe.valueOf(t, l, alice, 1))
		require.Equal(uint64(1), l.Height())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		l, fhe := newTestLedger(t)

		_, err := l.BatchAddPreferences(alice, nil, nil, validProof)
		require.ErrorIs(t, err, ErrEmptyBatch)
		_, err = l.BatchAddPreferences(alice, []uint32{1, 2}, []common.Hash{fhe.input(1)}, validProof)
		require.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestAddRejectsBadInput(t *testing.T) {
	l, fhe := newTestLedger(t)

	_, err := l.AddCategoryPreference(alice, 1, fhe.input(1), []byte("forged"))
	require.ErrorIs(t, err, errBadProof)
	_, err = l.AddCategoryPreference(alice, 0, fhe.input(1), validProof)
	require.ErrorIs(t, err, ErrZeroCategory)

	ok, err := l.HasInitialized(alice, alice, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, l.Height())
}

func TestEventsFeed(t *testing.T) {
	require := require.New(t)
	l, fhe := newTestLedger(t)

	ch := make(chan CategoryPreferenceAdded, 4)
	sub := l.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	_, err := l.BatchAddPreferences(alice, []uint32{4, 5}, []common.Hash{fhe.input(1), fhe.input(2)}, validProof)
	require.NoError(err)

	require.Equal(uint32(4), (<-ch).CategoryID)
	require.Equal(uint32(5), (<-ch).CategoryID)
}

func TestHeightSurvivesReopen(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	fhe := newFakeFHE()
	clock := &mockable.Clock{}
	l, err := New(db, Config{Address: contractAddr}, fhe, clock, log.NewNoOpLogger())
	require.NoError(err)
	_, err = l.AddCategoryPreference(alice, 1, fhe.input(1), validProof)
	require.NoError(err)

	reopened, err := New(db, Config{Address: contractAddr}, fhe, clock, log.NewNoOpLogger())
	require.NoError(err)
	require.Equal(uint64(1), reopened.Height())

	ok, err := reopened.HasInitialized(alice, alice, 1)
	require.NoError(err)
	require.True(ok)
}

func TestCode(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NotEmpty(t, l.Code(contractAddr))
	require.Empty(t, l.Code(alice))
}

func handleOf(n uint64) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], n)
	return h
}
