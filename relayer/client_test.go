// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

func newTestClient(t *testing.T, chainID uint64) (*Client, *fakeLibrary, *KeySigner) {
	t.Helper()
	var loads atomic.Int32
	lib := newFakeLibrary(chainID)
	s := NewSession(libraryLoader(lib, &loads), nil, SessionConfig{}, log.NewNoOpLogger())

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewClient(s, clock, log.NewNoOpLogger()), lib, NewKeySigner(key)
}

func TestClientRequiresReady(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c, lib, signer := newTestClient(t, LocalChainID)

	_, err := c.Encrypt(ctx, testContract, signer.Address(), 1)
	require.ErrorIs(err, ErrNotReady)
	_, err = c.UserDecrypt(ctx, testHandle, testContract, signer.Address(), signer)
	require.ErrorIs(err, ErrNotReady)
	require.Equal(Unloaded, c.Session().State())
	require.Empty(lib.instance.encrypts)
}

func TestClientEncrypt(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c, lib, signer := newTestClient(t, LocalChainID)
	require.NoError(c.Session().Ensure(ctx))

	v, err := c.Encrypt(ctx, testContract, signer.Address(), 5)
	require.NoError(err)
	require.NotEqual(common.Hash{}, v.Handle)
	require.Equal([]byte{1}, v.Proof)
	require.Equal([]uint32{5}, lib.instance.encrypts)
}

func TestClientUserDecrypt(t *testing.T) {
	tests := []struct {
		name     string
		chainID  uint64
		prefixed bool
	}{
		{name: "local chain strips prefix", chainID: LocalChainID, prefixed: false},
		{name: "remote chain keeps prefix", chainID: 11155111, prefixed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			c, lib, signer := newTestClient(t, tt.chainID)
			require.NoError(c.Session().Ensure(ctx))
			lib.instance.values[testHandle] = 8

			v, err := c.UserDecrypt(ctx, testHandle, testContract, signer.Address(), signer)
			require.NoError(err)
			require.Equal(uint64(8), v)

			require.Len(lib.instance.requests, 1)
			req := lib.instance.requests[0]
			require.Equal(tt.prefixed, strings.HasPrefix(req.Signature, "0x"))
			require.Equal([]HandleContractPair{{Handle: testHandle, Contract: testContract}}, req.Pairs)
			require.Equal([]common.Address{testContract}, req.Contracts)
			require.Equal(signer.Address(), req.User)
			require.Equal(int64(1_700_000_000), req.StartTimestamp)
			require.Equal(int64(DefaultDurationDays), req.DurationDays)

			sig := req.Signature
			if !tt.prefixed {
				sig = "0x" + sig
			}
			raw, err := hexutil.Decode(sig)
			require.NoError(err)
			td, err := fhe.NewUserDecryptTypedData(tt.chainID, req.PublicKey, req.Contracts, req.StartTimestamp, req.DurationDays)
			require.NoError(err)
			recovered, err := fhe.RecoverTypedDataSigner(td, raw)
			require.NoError(err)
			require.Equal(signer.Address(), recovered)
		})
	}
}

func TestClientUserDecryptRejects(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c, lib, signer := newTestClient(t, LocalChainID)

	// Malformed handles fail before the session is consulted.
	_, err := c.UserDecrypt(ctx, common.Hash{}, testContract, signer.Address(), signer)
	require.ErrorIs(err, ErrMalformedHandle)
	require.False(Retryable(err))

	require.NoError(c.Session().Ensure(ctx))
	_, err = c.UserDecrypt(ctx, testHandle, testContract, common.HexToAddress("0xb0b"), signer)
	require.ErrorIs(err, ErrSignerMismatch)
	require.Empty(lib.instance.requests)

	_, err = c.UserDecrypt(ctx, testHandle, testContract, signer.Address(), signer)
	require.ErrorIs(err, ErrValueMissing)
}

func TestParseHandle(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)

	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: valid},
		{in: "", wantErr: true},
		{in: "0x", wantErr: true},
		{in: strings.Repeat("ab", 32), wantErr: true},
		{in: "0x" + strings.Repeat("ab", 31), wantErr: true},
		{in: "0x" + strings.Repeat("ab", 33), wantErr: true},
		{in: "0x" + strings.Repeat("zz", 32), wantErr: true},
		{in: "0x" + strings.Repeat("00", 32), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, err := ParseHandle(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedHandle)
				return
			}
			require.NoError(t, err)
			require.Equal(t, common.HexToHash(valid), h)
		})
	}
}

func TestKeySigner(t *testing.T) {
	require := require.New(t)
	key, err := crypto.GenerateKey()
	require.NoError(err)
	signer := NewKeySigner(key)

	td, err := fhe.NewUserDecryptTypedData(1, make([]byte, 32), []common.Address{testContract}, 1, 10)
	require.NoError(err)
	sig, err := signer.SignTypedData(context.Background(), td)
	require.NoError(err)
	require.Len(sig, crypto.SignatureLength)
	require.Contains([]byte{27, 28}, sig[64])

	recovered, err := fhe.RecoverTypedDataSigner(td, sig)
	require.NoError(err)
	require.Equal(common.PubkeyToAddress(key.PublicKey), recovered)
}

func TestClientEncryptBatch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c, lib, signer := newTestClient(t, LocalChainID)
	require.NoError(c.Session().Ensure(ctx))

	handles, proof, err := c.EncryptBatch(ctx, testContract, signer.Address(), []uint32{1, 2, 3})
	require.NoError(err)
	require.Len(handles, 3)
	require.Equal([]byte{3}, proof)
	require.Equal([]uint32{1, 2, 3}, lib.instance.encrypts)
}
