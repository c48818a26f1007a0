// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhevm implements the relayer SDK over the FHE runtime, either in
// process or through a relayer service.
package fhevm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/relayer"
)

var (
	ErrChainMismatch  = errors.New("relayer serves a different chain")
	ErrNotInitialized = errors.New("sdk not initialized")
	ErrBadValue       = errors.New("malformed decrypted value")
)

var _ relayer.Loader = (*Loader)(nil)

// Loader produces a Library bound to one gateway.
type Loader struct {
	gateway Gateway
	chainID uint64
}

// NewLocal returns a loader for an in-process runtime. chainID, when
// non-zero, must match the runtime's.
func NewLocal(runtime *fhe.Runtime, chainID uint64) *Loader {
	return &Loader{
		gateway: &localGateway{runtime: runtime},
		chainID: chainID,
	}
}

// NewRemote returns a loader for the relayer service at uri.
func NewRemote(uri *url.URL, client *http.Client) *Loader {
	return &Loader{gateway: newRemoteGateway(uri, client)}
}

// Load fetches the relayer metadata.
func (l *Loader) Load(ctx context.Context) (any, error) {
	meta, err := l.gateway.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relayer metadata: %w", err)
	}
	if l.chainID != 0 && meta.ChainID != l.chainID {
		return nil, fmt.Errorf("%w: want %d, relayer has %d", ErrChainMismatch, l.chainID, meta.ChainID)
	}
	return &Library{
		gateway: l.gateway,
		meta:    meta,
	}, nil
}

// Library is the loaded SDK.
type Library struct {
	gateway Gateway
	meta    *fhe.MetadataReply

	lock      sync.Mutex
	encryptor *fhe.PublicEncryptor
}

// InitSDK prepares client side encryption under the relayer's public key.
func (l *Library) InitSDK(context.Context) (bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.encryptor != nil {
		return true, nil
	}
	encryptor, err := fhe.NewPublicEncryptor(l.meta.Config, l.meta.PublicKey)
	if err != nil {
		return false, err
	}
	l.encryptor = encryptor
	return true, nil
}

func (l *Library) Initialized() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.encryptor != nil
}

func (l *Library) DefaultConfig() relayer.InstanceConfig {
	return relayer.InstanceConfig{ChainID: l.meta.ChainID}
}

func (l *Library) CreateInstance(_ context.Context, config relayer.InstanceConfig) (relayer.Instance, error) {
	if !l.Initialized() {
		return nil, ErrNotInitialized
	}
	if config.ChainID != l.meta.ChainID {
		return nil, fmt.Errorf("%w: want %d, relayer has %d", ErrChainMismatch, config.ChainID, l.meta.ChainID)
	}
	return &instance{
		library: l,
		chainID: config.ChainID,
	}, nil
}

func (l *Library) encrypt(value uint32) ([]byte, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.encryptor.EncryptUint32(value)
}

var _ relayer.Instance = (*instance)(nil)

type instance struct {
	library *Library
	chainID uint64
}

func (i *instance) CreateEncryptedInput(contract, user common.Address) relayer.EncryptedInput {
	return &encryptedInput{
		instance: i,
		contract: contract,
		user:     user,
	}
}

func (*instance) GenerateKeypair() (*relayer.Keypair, error) {
	kp, err := fhe.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &relayer.Keypair{PublicKey: kp.PublicKey, PrivateKey: kp.PrivateKey}, nil
}

func (i *instance) CreateEIP712(publicKey []byte, contracts []common.Address, startTimestamp, durationDays int64) (apitypes.TypedData, error) {
	return fhe.NewUserDecryptTypedData(i.chainID, publicKey, contracts, startTimestamp, durationDays)
}

func (i *instance) UserDecrypt(ctx context.Context, req *relayer.DecryptRequest) (map[common.Hash]uint64, error) {
	pairs := make([]fhe.HandleContractPair, len(req.Pairs))
	for n, p := range req.Pairs {
		pairs[n] = fhe.HandleContractPair{Handle: p.Handle, Contract: p.Contract}
	}
	sealed, err := i.library.gateway.UserDecrypt(ctx, &fhe.UserDecryptRequest{
		Pairs:          pairs,
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		Contracts:      req.Contracts,
		User:           req.User,
		StartTimestamp: req.StartTimestamp,
		DurationDays:   req.DurationDays,
	})
	if err != nil {
		return nil, err
	}

	out := make(map[common.Hash]uint64, len(sealed))
	for _, v := range sealed {
		plain, err := fhe.Open(req.PrivateKey, v.Sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", v.Handle, err)
		}
		if len(plain) != 4 {
			return nil, fmt.Errorf("%w: %d bytes for %s", ErrBadValue, len(plain), v.Handle)
		}
		out[v.Handle] = uint64(binary.BigEndian.Uint32(plain))
	}
	return out, nil
}

type encryptedInput struct {
	instance *instance
	contract common.Address
	user     common.Address
	values   []uint32
}

func (e *encryptedInput) Add32(value uint32) relayer.EncryptedInput {
	e.values = append(e.values, value)
	return e
}

// Encrypt encrypts every added value locally and registers the ciphertexts
// with the relayer.
func (e *encryptedInput) Encrypt(ctx context.Context) (*relayer.EncryptedInputs, error) {
	cts := make([][]byte, len(e.values))
	for n, v := range e.values {
		ct, err := e.instance.library.encrypt(v)
		if err != nil {
			return nil, err
		}
		cts[n] = ct
	}
	handles, proof, err := e.instance.library.gateway.InputProof(ctx, e.contract, e.user, cts)
	if err != nil {
		return nil, err
	}
	return &relayer.EncryptedInputs{
		Handles:    handles,
		InputProof: proof,
	}, nil
}
