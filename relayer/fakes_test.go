// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/luxfi/readingvault/fhe"
)

var (
	testContract = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	testHandle   = common.HexToHash("0x0b")

	errFakeInit = errors.New("fake init failure")
)

type fakeLibrary struct {
	initOK      bool
	initErr     error
	initialized bool
	createErr   error
	chainID     uint64

	inits    atomic.Int32
	instance *fakeInstance
}

func newFakeLibrary(chainID uint64) *fakeLibrary {
	return &fakeLibrary{
		initOK:   true,
		chainID:  chainID,
		instance: &fakeInstance{values: map[common.Hash]uint64{}},
	}
}

func (l *fakeLibrary) InitSDK(context.Context) (bool, error) {
	l.inits.Add(1)
	if l.initErr != nil || !l.initOK {
		return false, l.initErr
	}
	l.initialized = true
	return true, nil
}

func (l *fakeLibrary) CreateInstance(_ context.Context, config InstanceConfig) (Instance, error) {
	if l.createErr != nil {
		return nil, l.createErr
	}
	l.instance.chainID = config.ChainID
	return l.instance, nil
}

func (l *fakeLibrary) DefaultConfig() InstanceConfig {
	return InstanceConfig{ChainID: l.chainID}
}

func (l *fakeLibrary) Initialized() bool { return l.initialized }

// bareLibrary has the required capabilities but cannot report whether it
// was initialized.
type bareLibrary struct {
	inits atomic.Int32
}

func (b *bareLibrary) InitSDK(context.Context) (bool, error) {
	b.inits.Add(1)
	return true, nil
}

func (*bareLibrary) CreateInstance(context.Context, InstanceConfig) (Instance, error) {
	return &fakeInstance{}, nil
}

func (*bareLibrary) DefaultConfig() InstanceConfig { return InstanceConfig{ChainID: 1} }

type fakeInstance struct {
	chainID  uint64
	values   map[common.Hash]uint64
	requests []*DecryptRequest
	encrypts []uint32
}

func (f *fakeInstance) CreateEncryptedInput(common.Address, common.Address) EncryptedInput {
	return &fakeInput{instance: f}
}

func (*fakeInstance) GenerateKeypair() (*Keypair, error) {
	kp, err := fhe.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: kp.PublicKey, PrivateKey: kp.PrivateKey}, nil
}

func (f *fakeInstance) CreateEIP712(pk []byte, contracts []common.Address, start, days int64) (apitypes.TypedData, error) {
	return fhe.NewUserDecryptTypedData(f.chainID, pk, contracts, start, days)
}

func (f *fakeInstance) UserDecrypt(_ context.Context, req *DecryptRequest) (map[common.Hash]uint64, error) {
	f.requests = append(f.requests, req)
	out := make(map[common.Hash]uint64)
	for _, p := range req.Pairs {
		if v, ok := f.values[p.Handle]; ok {
			out[p.Handle] = v
		}
	}
	return out, nil
}

type fakeInput struct {
	instance *fakeInstance
	values   []uint32
}

func (i *fakeInput) Add32(v uint32) EncryptedInput {
	i.values = append(i.values, v)
	return i
}

func (i *fakeInput) Encrypt(context.Context) (*EncryptedInputs, error) {
	out := &EncryptedInputs{InputProof: []byte{byte(len(i.values))}}
	for _, v := range i.values {
		i.instance.encrypts = append(i.instance.encrypts, v)
		out.Handles = append(out.Handles, common.BytesToHash([]byte{0xa0, byte(len(i.instance.encrypts))}))
	}
	return out, nil
}
