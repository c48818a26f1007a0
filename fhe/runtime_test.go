// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	testStart    = time.Unix(1_760_000_000, 0)
)

type testRuntime struct {
	*Runtime
	clock *mockable.Clock
}

func newTestRuntime(t *testing.T, chainID uint64) *testRuntime {
	t.Helper()
	clock := &mockable.Clock{}
	clock.Set(testStart)
	r, err := NewRuntime(memdb.New(), RuntimeConfig{ChainID: chainID, FHE: DefaultConfig()}, clock, log.NewNoOpLogger())
	require.NoError(t, err)
	return &testRuntime{Runtime: r, clock: clock}
}

// input encrypts value the way a client would and registers it.
func (r *testRuntime) input(t *testing.T, user common.Address, values ...uint32) ([]common.Hash, []byte) {
	t.Helper()
	enc, err := NewPublicEncryptor(r.Config(), r.PublicKey())
	require.NoError(t, err)

	inputs := make([][]byte, len(values))
	for i, v := range values {
		inputs[i], err = enc.EncryptUint32(v)
		require.NoError(t, err)
	}
	handles, proof, err := r.RegisterInputs(testContract, user, inputs)
	require.NoError(t, err)
	return handles, proof
}

// stored imports an input for user and grants user and contract access, as
// the ledger does on a first write.
func (r *testRuntime) stored(t *testing.T, user common.Address, value uint32) common.Hash {
	t.Helper()
	handles, proof := r.input(t, user, value)
	h, err := r.FromExternal(testContract, user, handles[0], proof)
	require.NoError(t, err)
	require.NoError(t, r.Allow(h, user))
	return h
}

func newUser(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, common.PubkeyToAddress(key.PublicKey)
}

// signedRequest returns a request for handle signed by key, encoded for
// chainID.
func signedRequest(t *testing.T, key *ecdsa.PrivateKey, chainID uint64, kp *Keypair, start int64, handle common.Hash) *UserDecryptRequest {
	t.Helper()
	contracts := []common.Address{testContract}
	td, err := NewUserDecryptTypedData(chainID, kp.PublicKey, contracts, start, 10)
	require.NoError(t, err)
	hash, err := TypedDataHash(td)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)
	sig[64] += 27

	encoded := hexutil.Encode(sig)
	if chainID == LocalChainID {
		encoded = encoded[2:]
	}
	return &UserDecryptRequest{
		Pairs:          []HandleContractPair{{Handle: handle, Contract: testContract}},
		PublicKey:      kp.PublicKey,
		Signature:      encoded,
		Contracts:      contracts,
		User:           common.PubkeyToAddress(key.PublicKey),
		StartTimestamp: start,
		DurationDays:   10,
	}
}

func openValue(t *testing.T, kp *Keypair, sealed []byte) uint32 {
	t.Helper()
	plain, err := Open(kp.PrivateKey, sealed)
	require.NoError(t, err)
	require.Len(t, plain, 4)
	return binary.BigEndian.Uint32(plain)
}

func TestRuntimeFromExternal(t *testing.T) {
	r := newTestRuntime(t, LocalChainID)
	_, user := newUser(t)
	_, other := newUser(t)
	handles, proof := r.input(t, user, 5, 6)

	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		for _, h := range handles {
			got, err := r.FromExternal(testContract, user, h, proof)
			require.NoError(err)
			require.Equal(h, got)

			ok, err := r.IsAllowed(h, testContract)
			require.NoError(err)
			require.True(ok)
		}
	})

	t.Run("wrong user", func(t *testing.T) {
		_, err := r.FromExternal(testContract, other, handles[0], proof)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("wrong contract", func(t *testing.T) {
		_, err := r.FromExternal(common.HexToAddress("0x01"), user, handles[0], proof)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("handle not in proof", func(t *testing.T) {
		_, err := r.FromExternal(testContract, user, common.HexToHash("0xbeef"), proof)
		require.ErrorIs(t, err, ErrHandleNotInProof)
	})

	t.Run("tampered", func(t *testing.T) {
		bad := common.CopyBytes(proof)
		bad[1] ^= 0xff
		_, err := r.FromExternal(testContract, user, handles[0], bad)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := r.FromExternal(testContract, user, handles[0], proof[:10])
		require.ErrorIs(t, err, ErrInvalidProof)
	})
}

func TestRuntimeRegisterInputsBounds(t *testing.T) {
	r := newTestRuntime(t, LocalChainID)
	_, user := newUser(t)

	_, _, err := r.RegisterInputs(testContract, user, nil)
	require.ErrorIs(t, err, ErrNoInputs)

	_, _, err = r.RegisterInputs(testContract, user, [][]byte{{1, 2, 3}})
	require.Error(t, err)
}

func TestRuntimeAdd(t *testing.T) {
	require := require.New(t)
	r := newTestRuntime(t, LocalChainID)
	_, user := newUser(t)

	a := r.stored(t, user, 5)
	b := r.stored(t, user, 3)

	sum, err := r.Add(testContract, a, b)
	require.NoError(err)

	got, err := r.decrypt(sum)
	require.NoError(err)
	require.Equal(uint32(8), got)

	meta, err := r.Registry().GetCiphertextMeta(sum)
	require.NoError(err)
	require.Equal(OriginAdd, meta.Origin)
	require.Equal(user, meta.User)

	// the contract has not been granted the result yet
	_, err = r.Add(testContract, sum, a)
	require.ErrorIs(err, ErrNotAllowed)

	_, err = r.Add(common.HexToAddress("0x02"), a, b)
	require.ErrorIs(err, ErrNotAllowed)
}

func TestRuntimeStage(t *testing.T) {
	require := require.New(t)
	r := newTestRuntime(t, LocalChainID)
	_, user := newUser(t)

	a := r.stored(t, user, 5)
	handles, proof := r.input(t, user, 3)

	batch := r.Stage()
	b, err := batch.FromExternal(testContract, user, handles[0], proof)
	require.NoError(err)
	sum, err := batch.Add(testContract, a, b)
	require.NoError(err)
	require.NoError(batch.Allow(sum, user))

	ok, err := batch.IsAllowed(sum, user)
	require.NoError(err)
	require.True(ok)
	ok, err = r.IsAllowed(b, testContract)
	require.NoError(err)
	require.False(ok)
	_, err = r.Registry().GetCiphertextMeta(sum)
	require.ErrorIs(err, ErrMetaNotFound)

	batch.Abort()
	require.ErrorIs(r.Allow(sum, user), ErrCiphertextNotFound)

	batch = r.Stage()
	b, err = batch.FromExternal(testContract, user, handles[0], proof)
	require.NoError(err)
	sum, err = batch.Add(testContract, a, b)
	require.NoError(err)
	require.NoError(batch.Allow(sum, user))
	require.NoError(batch.Commit())

	ok, err = r.IsAllowed(sum, user)
	require.NoError(err)
	require.True(ok)
	got, err := r.decrypt(sum)
	require.NoError(err)
	require.Equal(uint32(8), got)
}

func TestRuntimeAllowUnknownHandle(t *testing.T) {
	r := newTestRuntime(t, LocalChainID)
	_, user := newUser(t)
	require.ErrorIs(t, r.Allow(common.HexToHash("0x1234"), user), ErrCiphertextNotFound)
}

func TestRuntimeUserDecrypt(t *testing.T) {
	r := newTestRuntime(t, LocalChainID)
	key, user := newUser(t)
	h := r.stored(t, user, 7)

	kp, err := GenerateKeypair()
	require.NoError(t, err)
	start := testStart.Unix()

	t.Run("valid", func(t *testing.T) {
		require := require.New(t)

		values, err := r.UserDecrypt(signedRequest(t, key, LocalChainID, kp, start, h))
		require.NoError(err)
		require.Len(values, 1)
		require.Equal(h, values[0].Handle)
		require.Equal(uint32(7), openValue(t, kp, values[0].Sealed))

		reqs, err := r.Registry().DecryptRequests(user)
		require.NoError(err)
		require.NotEmpty(reqs)
		require.Equal(RequestCompleted, reqs[len(reqs)-1].Status)
	})

	t.Run("prefixed signature on local chain", func(t *testing.T) {
		req := signedRequest(t, key, LocalChainID, kp, start, h)
		req.Signature = "0x" + req.Signature
		_, err := r.UserDecrypt(req)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		otherKey, _ := newUser(t)
		req := signedRequest(t, otherKey, LocalChainID, kp, start, h)
		req.User = user
		_, err := r.UserDecrypt(req)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("not yet valid", func(t *testing.T) {
		_, err := r.UserDecrypt(signedRequest(t, key, LocalChainID, kp, start+60, h))
		require.ErrorIs(t, err, ErrRequestNotYetValid)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := r.UserDecrypt(signedRequest(t, key, LocalChainID, kp, start-10*secondsPerDay, h))
		require.ErrorIs(t, err, ErrRequestExpired)
	})

	t.Run("contract not in authorization", func(t *testing.T) {
		req := signedRequest(t, key, LocalChainID, kp, start, h)
		req.Pairs[0].Contract = common.HexToAddress("0x03")
		_, err := r.UserDecrypt(req)
		require.ErrorIs(t, err, ErrContractNotAuthorized)
	})

	t.Run("user not allowed", func(t *testing.T) {
		otherKey, other := newUser(t)
		otherHandle := r.stored(t, other, 9)
		_, err := r.UserDecrypt(signedRequest(t, key, LocalChainID, kp, start, otherHandle))
		require.ErrorIs(t, err, ErrNotAllowed)

		// the owner can
		values, err := r.UserDecrypt(signedRequest(t, otherKey, LocalChainID, kp, start, otherHandle))
		require.NoError(t, err)
		require.Equal(t, uint32(9), openValue(t, kp, values[0].Sealed))
	})

	t.Run("bad shape", func(t *testing.T) {
		req := signedRequest(t, key, LocalChainID, kp, start, h)
		req.PublicKey = []byte{1, 2}
		_, err := r.UserDecrypt(req)
		require.ErrorIs(t, err, ErrInvalidRequest)

		req = signedRequest(t, key, LocalChainID, kp, start, h)
		req.Pairs[0].Handle = ZeroHandle
		_, err = r.UserDecrypt(req)
		require.ErrorIs(t, err, ErrInvalidRequest)

		_, err = r.UserDecrypt(nil)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestRuntimeUserDecryptRemoteChain(t *testing.T) {
	const chainID = 11155111
	r := newTestRuntime(t, chainID)
	key, user := newUser(t)
	h := r.stored(t, user, 4)
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	req := signedRequest(t, key, chainID, kp, testStart.Unix(), h)
	values, err := r.UserDecrypt(req)
	require.NoError(t, err)
	require.Equal(t, uint32(4), openValue(t, kp, values[0].Sealed))

	req.Signature = req.Signature[2:]
	_, err = r.UserDecrypt(req)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRuntimeReopen(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	clock := &mockable.Clock{}
	config := RuntimeConfig{ChainID: LocalChainID, FHE: DefaultConfig()}

	first, err := NewRuntime(db, config, clock, log.NewNoOpLogger())
	require.NoError(err)
	second, err := NewRuntime(db, config, clock, log.NewNoOpLogger())
	require.NoError(err)

	require.Equal(first.VerifierAddress(), second.VerifierAddress())
	require.Equal(first.PublicKey(), second.PublicKey())
}
