// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/signer/core/apitypes"
)

// Loader fetches the raw vendor library.
type Loader interface {
	Load(ctx context.Context) (any, error)
}

// LoaderFunc adapts a function to a Loader.
type LoaderFunc func(ctx context.Context) (any, error)

func (f LoaderFunc) Load(ctx context.Context) (any, error) { return f(ctx) }

// Host reports a library instance that is already present in the process.
type Host interface {
	Lookup() (any, bool)
}

// InstanceConfig scopes an Instance to a chain.
type InstanceConfig struct {
	ChainID uint64 `json:"chainId"`
}

// Library is the vendor library after its shape has been checked.
type Library interface {
	InitSDK(ctx context.Context) (bool, error)
	CreateInstance(ctx context.Context, config InstanceConfig) (Instance, error)
	DefaultConfig() InstanceConfig
	// Initialized reports whether InitSDK already ran. Libraries that
	// cannot tell always report false.
	Initialized() bool
}

// Instance is a chain scoped handle to the relayer.
type Instance interface {
	CreateEncryptedInput(contract, user common.Address) EncryptedInput
	GenerateKeypair() (*Keypair, error)
	CreateEIP712(publicKey []byte, contracts []common.Address, startTimestamp, durationDays int64) (apitypes.TypedData, error)
	UserDecrypt(ctx context.Context, req *DecryptRequest) (map[common.Hash]uint64, error)
}

// EncryptedInput collects values to encrypt for one (contract, user) pair.
type EncryptedInput interface {
	Add32(value uint32) EncryptedInput
	Encrypt(ctx context.Context) (*EncryptedInputs, error)
}

// EncryptedInputs are the handles of encrypted values, in the order they
// were added, and the proof attesting them.
type EncryptedInputs struct {
	Handles    []common.Hash
	InputProof []byte
}

// Keypair is ephemeral key material for receiving decrypted values.
type Keypair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// HandleContractPair names a handle and the contract it belongs to.
type HandleContractPair struct {
	Handle   common.Hash
	Contract common.Address
}

// DecryptRequest is everything the relayer needs to reveal handles to User.
type DecryptRequest struct {
	Pairs          []HandleContractPair
	PrivateKey     []byte
	PublicKey      []byte
	Signature      string
	Contracts      []common.Address
	User           common.Address
	StartTimestamp int64
	DurationDays   int64
}

type (
	sdkInitializer interface {
		InitSDK(ctx context.Context) (bool, error)
	}
	instanceFactory interface {
		CreateInstance(ctx context.Context, config InstanceConfig) (Instance, error)
	}
	configProvider interface {
		DefaultConfig() InstanceConfig
	}
	initializedReporter interface {
		Initialized() bool
	}
)

// Adapt checks that raw provides the capabilities of a Library.
// Initialized is optional.
func Adapt(raw any) (Library, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil library", ErrIncompatibleSDK)
	}
	initializer, ok := raw.(sdkInitializer)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no InitSDK", ErrIncompatibleSDK, raw)
	}
	factory, ok := raw.(instanceFactory)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no CreateInstance", ErrIncompatibleSDK, raw)
	}
	config, ok := raw.(configProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no DefaultConfig", ErrIncompatibleSDK, raw)
	}
	reporter, _ := raw.(initializedReporter)
	return &adapted{
		sdkInitializer:  initializer,
		instanceFactory: factory,
		configProvider:  config,
		reporter:        reporter,
	}, nil
}

type adapted struct {
	sdkInitializer
	instanceFactory
	configProvider
	reporter initializedReporter
}

func (a *adapted) Initialized() bool {
	return a.reporter != nil && a.reporter.Initialized()
}
