// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/chain"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/fhevm"
	"github.com/luxfi/readingvault/ledger"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/relayer"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

var (
	contractAddr = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	otherAddr    = common.HexToAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")
)

// harness is a local chain: one FHE runtime, one ledger and one SDK session
// shared by every store created from it.
type harness struct {
	clock   *mockable.Clock
	runtime *fhe.Runtime
	ledger  *ledger.Ledger
	client  *relayer.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_760_000_000, 0))
	db := memdb.New()

	runtime, err := fhe.NewRuntime(
		prefixdb.New([]byte("fhe"), db),
		fhe.RuntimeConfig{ChainID: relayer.LocalChainID, FHE: fhe.DefaultConfig()},
		clock,
		log.NewNoOpLogger(),
	)
	require.NoError(err)
	l, err := ledger.New(
		prefixdb.New([]byte("ledger"), db),
		ledger.Config{Address: contractAddr, ChainID: relayer.LocalChainID},
		runtime,
		clock,
		log.NewNoOpLogger(),
	)
	require.NoError(err)

	session := relayer.NewSession(fhevm.NewLocal(runtime, relayer.LocalChainID), nil, relayer.SessionConfig{}, log.NewNoOpLogger())
	return &harness{
		clock:   clock,
		runtime: runtime,
		ledger:  l,
		client:  relayer.NewClient(session, clock, log.NewNoOpLogger()),
	}
}

func (h *harness) dialer(contract common.Address) Dialer {
	return func(_ context.Context, account common.Address) (chain.Ledger, error) {
		return chain.NewContract(contract, chain.NewLocalBackend(h.ledger, account)), nil
	}
}

// store opens a store over cacheDB, which plays the browser profile.
func (h *harness) store(contract common.Address, cacheDB database.Database) *Store {
	return New(
		Config{Contract: contract},
		h.dialer(contract),
		h.client,
		NewCache(cacheDB, h.clock, 0),
		metrics.NewNoOp(),
		log.NewNoOpLogger(),
	)
}

func (h *harness) decryptCalls(t *testing.T, account common.Address) int {
	t.Helper()
	requests, err := h.runtime.Registry().DecryptRequests(account)
	require.NoError(t, err)
	return len(requests)
}

func newWallet(t *testing.T) *relayer.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return relayer.NewKeySigner(key)
}

func connected(t *testing.T, h *harness, wallet relayer.Signer) *Store {
	t.Helper()
	s := h.store(contractAddr, memdb.New())
	require.NoError(t, s.Connect(context.Background(), wallet))
	return s
}

func TestAccumulation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := newWallet(t), newWallet(t)
	aliceStore, bobStore := connected(t, h, alice), connected(t, h, bob)

	for _, n := range []int64{5, 3} {
		_, err := aliceStore.AddCategoryPreference(ctx, 1, n)
		require.NoError(err)
	}
	require.Equal("Added 3 books to Science Fiction", aliceStore.Message())

	v, err := aliceStore.DecryptCategoryCount(ctx, 1)
	require.NoError(err)
	require.Equal(uint64(8), v)

	_, err = bobStore.AddCategoryPreference(ctx, 1, 2)
	require.NoError(err)
	v, err = bobStore.DecryptCategoryCount(ctx, 1)
	require.NoError(err)
	require.Equal(uint64(2), v)

	v, err = aliceStore.DecryptCategoryCount(ctx, 1)
	require.NoError(err)
	require.Equal(uint64(8), v)

	state := aliceStore.State()
	require.Equal(alice.Address(), state.Account)
	require.True(state.Connected)
	require.Equal([]uint32{1}, state.Categories)
	require.Equal(map[uint32]uint64{1: 8}, state.Decrypted)
	require.Equal(relayer.Ready, state.SDKState)
	require.False(state.Busy)
}

func TestUninitialized(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := newWallet(t)
	s := connected(t, h, alice)

	ok, err := h.ledger.HasInitialized(alice.Address(), alice.Address(), 4)
	require.NoError(err)
	require.False(ok)
	handle, err := h.ledger.GetEncryptedCategoryCount(alice.Address(), alice.Address(), 4)
	require.NoError(err)
	require.Equal(common.Hash{}, handle)

	_, err = s.DecryptCategoryCount(ctx, 4)
	require.ErrorIs(err, ErrNotInitialized)
	require.Equal(Authorization, Classify(err))
	require.Contains(s.Message(), "Fantasy")
	require.Zero(h.decryptCalls(t, alice.Address()))
}

func TestBatch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := newWallet(t)
	s := connected(t, h, alice)

	tooMany := make([]Entry, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = Entry{Category: uint32(i%8 + 1), Count: 1}
	}
	_, err := s.AddCategoryPreferences(ctx, tooMany)
	require.ErrorIs(err, ErrBatchTooLarge)
	require.Equal(Validation, Classify(err))
	require.Empty(s.State().Categories)

	_, err = s.AddCategoryPreferences(ctx, []Entry{
		{Category: 2, Count: 4},
		{Category: 7, Count: 1},
		{Category: 2, Count: 6},
	})
	require.NoError(err)
	require.Equal("Added 3 preferences", s.Message())
	require.ElementsMatch([]uint32{2, 7}, s.State().Categories)

	v, err := s.DecryptCategoryCount(ctx, 2)
	require.NoError(err)
	require.Equal(uint64(10), v)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := connected(t, h, newWallet(t))

	tests := []struct {
		name    string
		entries []Entry
		want    error
	}{
		{name: "empty", want: ErrNoCategory},
		{name: "zero category", entries: []Entry{{Category: 0, Count: 1}}, want: ErrNoCategory},
		{name: "zero count", entries: []Entry{{Category: 1, Count: 0}}, want: ErrInvalidCount},
		{name: "negative count", entries: []Entry{{Category: 1, Count: -2}}, want: ErrInvalidCount},
		{name: "overflow", entries: []Entry{{Category: 1, Count: 1 << 32}}, want: ErrInvalidCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddCategoryPreferences(ctx, tt.entries)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, Validation, Classify(err))
		})
	}

	_, err := s.DecryptCategoryCount(ctx, 0)
	require.ErrorIs(t, err, ErrNoCategory)
}

func TestCacheRestore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := newWallet(t), newWallet(t)
	profile := memdb.New()
	s := h.store(contractAddr, profile)

	require.NoError(s.Connect(ctx, alice))
	_, err := s.AddCategoryPreference(ctx, 3, 5)
	require.NoError(err)
	_, err = s.DecryptCategoryCount(ctx, 3)
	require.NoError(err)
	require.Equal(1, h.decryptCalls(t, alice.Address()))

	s.Disconnect()
	require.Empty(s.State().Decrypted)
	require.False(s.State().Connected)

	require.NoError(s.Connect(ctx, alice))
	require.Equal(map[uint32]uint64{3: 5}, s.State().Decrypted)
	require.Equal("Loaded 1 preferences from storage", s.Message())
	require.Equal(1, h.decryptCalls(t, alice.Address()))

	s.Disconnect()
	require.NoError(s.Connect(ctx, bob))
	require.Empty(s.State().Decrypted)

	// Switching accounts dropped alice's cache.
	s.Disconnect()
	require.NoError(s.Connect(ctx, alice))
	require.Empty(s.State().Decrypted)
}

func TestCacheExpires(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := newWallet(t)
	s := h.store(contractAddr, memdb.New())

	require.NoError(s.Connect(ctx, alice))
	_, err := s.AddCategoryPreference(ctx, 3, 5)
	require.NoError(err)
	_, err = s.DecryptCategoryCount(ctx, 3)
	require.NoError(err)

	s.Disconnect()
	h.clock.Advance(DefaultTTL + time.Minute)
	require.NoError(s.Connect(ctx, alice))
	require.Empty(s.State().Decrypted)
}

func TestRedecryptAfterContribution(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := newWallet(t)
	s := connected(t, h, alice)

	_, err := s.AddCategoryPreference(ctx, 5, 5)
	require.NoError(err)
	v, err := s.DecryptCategoryCount(ctx, 5)
	require.NoError(err)
	require.Equal(uint64(5), v)
	first := s.State().Handles[5]

	_, err = s.AddCategoryPreference(ctx, 5, 3)
	require.NoError(err)
	state := s.State()
	require.NotContains(state.Decrypted, uint32(5))
	require.NotEqual(first, state.Handles[5])

	v, err = s.DecryptCategoryCount(ctx, 5)
	require.NoError(err)
	require.Equal(uint64(8), v)
}

func TestContractChange(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := newWallet(t)
	profile := memdb.New()

	s := h.store(contractAddr, profile)
	require.NoError(s.Connect(ctx, alice))
	_, err := s.AddCategoryPreference(ctx, 1, 1)
	require.NoError(err)
	_, err = s.DecryptCategoryCount(ctx, 1)
	require.NoError(err)

	// A redeploy moves the contract; nothing lives at the new address yet.
	moved := h.store(otherAddr, profile)
	err = moved.Connect(ctx, alice)
	require.ErrorIs(err, chain.ErrNotDeployed)
	require.Equal(OnChain, Classify(err))
	require.Contains(moved.Message(), "contract not deployed at "+otherAddr.Hex())

	counts, err := NewCache(profile, h.clock, 0).Load(alice.Address())
	require.NoError(err)
	require.Empty(counts)
}

func TestNotConfigured(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	s := h.store(common.Address{}, memdb.New())

	require.False(s.Configured())
	require.Equal(ErrNotConfigured.Error(), s.Message())
	require.NoError(s.Connect(ctx, newWallet(t)))

	_, err := s.AddCategoryPreference(ctx, 1, 1)
	require.ErrorIs(err, ErrNotConfigured)
	require.Equal(Configuration, Classify(err))
	_, err = s.DecryptCategoryCount(ctx, 1)
	require.ErrorIs(err, ErrNotConfigured)
}

func TestNotConnected(t *testing.T) {
	h := newHarness(t)
	s := h.store(contractAddr, memdb.New())

	_, err := s.AddCategoryPreference(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, Connectivity, Classify(err))
}

func TestBusy(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	dial := h.dialer(contractAddr)
	s := New(
		Config{Contract: contractAddr},
		func(ctx context.Context, account common.Address) (chain.Ledger, error) {
			close(entered)
			<-release
			return dial(ctx, account)
		},
		h.client,
		NewCache(memdb.New(), h.clock, 0),
		metrics.NewNoOp(),
		log.NewNoOpLogger(),
	)

	wallet := newWallet(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Connect(ctx, wallet)
	}()
	<-entered
	require.True(s.State().Busy)

	_, err := s.AddCategoryPreference(ctx, 1, 1)
	require.ErrorIs(err, ErrBusy)
	_, err = s.DecryptCategoryCount(ctx, 1)
	require.ErrorIs(err, ErrBusy)

	close(release)
	require.NoError(<-done)
	require.False(s.State().Busy)
	require.Empty(s.State().Categories)
}

func TestSDKFailureIsStatus(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	errBlocked := errors.New("script blocked")
	session := relayer.NewSession(relayer.LoaderFunc(func(context.Context) (any, error) {
		return nil, errBlocked
	}), nil, relayer.SessionConfig{}, log.NewNoOpLogger())
	s := New(
		Config{Contract: contractAddr},
		h.dialer(contractAddr),
		relayer.NewClient(session, h.clock, log.NewNoOpLogger()),
		NewCache(memdb.New(), h.clock, 0),
		metrics.NewNoOp(),
		log.NewNoOpLogger(),
	)

	require.NoError(s.Connect(ctx, newWallet(t)))
	state := s.State()
	require.Equal(relayer.Error, state.SDKState)
	require.Contains(state.SDKError, errBlocked.Error())
	require.True(state.Connected)

	_, err := s.AddCategoryPreference(ctx, 1, 1)
	require.ErrorIs(err, relayer.ErrNotReady)
	require.Equal(Lifecycle, Classify(err))
}

func TestReloadSDK(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	errBlocked := errors.New("script blocked")
	local := fhevm.NewLocal(h.runtime, relayer.LocalChainID)
	blocked := true
	session := relayer.NewSession(relayer.LoaderFunc(func(ctx context.Context) (any, error) {
		if blocked {
			return nil, errBlocked
		}
		return local.Load(ctx)
	}), nil, relayer.SessionConfig{}, log.NewNoOpLogger())
	s := New(
		Config{Contract: contractAddr},
		h.dialer(contractAddr),
		relayer.NewClient(session, h.clock, log.NewNoOpLogger()),
		NewCache(memdb.New(), h.clock, 0),
		metrics.NewNoOp(),
		log.NewNoOpLogger(),
	)
	require.NoError(s.Connect(ctx, newWallet(t)))
	require.Equal(relayer.Error, s.State().SDKState)

	err := s.ReloadSDK(ctx)
	require.ErrorIs(err, errBlocked)
	require.Equal(relayer.Error, s.State().SDKState)

	blocked = false
	require.NoError(s.ReloadSDK(ctx))
	state := s.State()
	require.Equal(relayer.Ready, state.SDKState)
	require.Empty(state.SDKError)
	require.Equal("Relayer SDK reloaded", state.Message)

	_, err = s.AddCategoryPreference(ctx, 1, 2)
	require.NoError(err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{err: nil, want: Unknown},
		{err: errors.New("boom"), want: Unknown},
		{err: ErrNotConfigured, want: Configuration},
		{err: ErrNotConnected, want: Connectivity},
		{err: &relayer.LifecycleError{Op: "load", Err: relayer.ErrLoadTimeout}, want: Lifecycle},
		{err: relayer.ErrMalformedHandle, want: Validation},
		{err: ErrInvalidCount, want: Validation},
		{err: ledger.ErrUnauthorized, want: Authorization},
		{err: &chain.RevertError{Reason: "batch size exceeds maximum"}, want: OnChain},
		{err: chain.ErrNotDeployed, want: OnChain},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
