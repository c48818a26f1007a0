// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/ckks"
	"github.com/luxfi/log"
)

var (
	ErrKeysNotGenerated = errors.New("keys not generated")
	ErrKeysAlreadySet   = errors.New("keys already set")
)

// Processor holds the CKKS key material and performs encrypt, add and
// decrypt on euint32 ciphertexts.
type Processor struct {
	config Config
	log    log.Logger

	params  ckks.Parameters
	encoder *ckks.Encoder

	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *ckks.Evaluator

	publicKey *rlwe.PublicKey
	secretKey *rlwe.SecretKey

	opCount atomic.Uint64
}

// NewProcessor creates a processor without keys. Call GenerateKeys or
// LoadKeys before use.
func NewProcessor(config Config, logger log.Logger) (*Processor, error) {
	params, err := config.Parameters()
	if err != nil {
		return nil, err
	}

	logger.Info("FHE processor initialized",
		log.Int("logN", config.LogN),
		log.Int("levels", len(config.LogQ)),
		log.Int("slots", params.MaxSlots()),
	)
	return &Processor{
		config:  config,
		log:     logger,
		params:  params,
		encoder: ckks.NewEncoder(params),
	}, nil
}

// GenerateKeys creates a fresh key pair.
func (p *Processor) GenerateKeys() error {
	if p.secretKey != nil {
		return ErrKeysAlreadySet
	}
	kgen := rlwe.NewKeyGenerator(p.params.Parameters)
	sk, pk := kgen.GenKeyPairNew()
	p.install(sk, pk)
	p.log.Info("FHE keys generated")
	return nil
}

// LoadKeys restores a key pair produced by MarshalKeys.
func (p *Processor) LoadKeys(secretKey, publicKey []byte) error {
	if p.secretKey != nil {
		return ErrKeysAlreadySet
	}
	sk := rlwe.NewSecretKey(p.params.Parameters)
	if err := sk.UnmarshalBinary(secretKey); err != nil {
		return fmt.Errorf("failed to unmarshal secret key: %w", err)
	}
	pk := rlwe.NewPublicKey(p.params.Parameters)
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	p.install(sk, pk)
	p.log.Info("FHE keys loaded")
	return nil
}

// MarshalKeys serializes the key pair for persistence.
func (p *Processor) MarshalKeys() (secretKey, publicKey []byte, err error) {
	if p.secretKey == nil {
		return nil, nil, ErrKeysNotGenerated
	}
	secretKey, err = p.secretKey.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal secret key: %w", err)
	}
	publicKey, err = p.publicKey.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return secretKey, publicKey, nil
}

func (p *Processor) install(sk *rlwe.SecretKey, pk *rlwe.PublicKey) {
	kgen := rlwe.NewKeyGenerator(p.params.Parameters)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	p.secretKey = sk
	p.publicKey = pk
	p.evaluator = ckks.NewEvaluator(p.params, rlwe.NewMemEvaluationKeySet(rlk))
	p.encryptor = rlwe.NewEncryptor(p.params.Parameters, pk)
	p.decryptor = rlwe.NewDecryptor(p.params.Parameters, sk)
}

// PublicKeyBytes returns the serialized public key for client encryptors.
func (p *Processor) PublicKeyBytes() ([]byte, error) {
	if p.publicKey == nil {
		return nil, ErrKeysNotGenerated
	}
	return p.publicKey.MarshalBinary()
}

// Config returns the parameters the processor was built with.
func (p *Processor) Config() Config {
	return p.config
}

// Encrypt encrypts value under the processor's public key.
func (p *Processor) Encrypt(value uint32) (*Ciphertext, error) {
	if p.encryptor == nil {
		return nil, ErrKeysNotGenerated
	}
	ct, err := encryptValue(p.params, p.encoder, p.encryptor, value)
	if err != nil {
		return nil, err
	}
	p.opCount.Add(1)
	return NewCiphertext(ct, generateHandle(ct)), nil
}

// Import wraps a client ciphertext under a fresh handle.
func (p *Processor) Import(data []byte) (*Ciphertext, error) {
	ct, err := decodeExternal(data, p.params, p.params.MaxLevel())
	if err != nil {
		return nil, err
	}
	return NewCiphertext(ct, generateHandle(ct)), nil
}

// Add returns a new ciphertext holding a + b. Neither input is modified.
func (p *Processor) Add(a, b *Ciphertext) (*Ciphertext, error) {
	if p.evaluator == nil {
		return nil, ErrKeysNotGenerated
	}
	if a == nil || a.Ct == nil {
		return nil, errors.New("first operand is nil")
	}
	if b == nil || b.Ct == nil {
		return nil, errors.New("second operand is nil")
	}

	out := rlwe.NewCiphertext(p.params.Parameters, 1, min(a.Ct.Level(), b.Ct.Level()))
	if err := p.evaluator.Add(a.Ct, b.Ct, out); err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}
	p.opCount.Add(1)
	return NewCiphertext(out, generateHandle(out)), nil
}

// Decrypt recovers the euint32 behind ct.
func (p *Processor) Decrypt(ct *Ciphertext) (uint32, error) {
	if p.decryptor == nil {
		return 0, ErrKeysNotGenerated
	}
	if ct == nil || ct.Ct == nil {
		return 0, ErrNilCiphertext
	}
	pt := ckks.NewPlaintext(p.params, ct.Ct.Level())
	p.decryptor.Decrypt(ct.Ct, pt)

	values := make([]float64, p.params.MaxSlots())
	if err := p.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("failed to decode: %w", err)
	}
	p.opCount.Add(1)
	return toUint32(values[0]), nil
}

// OpCount returns the number of encrypt, add and decrypt operations.
func (p *Processor) OpCount() uint64 {
	return p.opCount.Load()
}

func (p *Processor) parameters() ckks.Parameters {
	return p.params
}

// generateHandle derives a 32 byte handle from fresh randomness and a
// prefix of the ciphertext.
func generateHandle(ct *rlwe.Ciphertext) common.Hash {
	var nonce [32]byte
	_, _ = rand.Read(nonce[:])

	ctBytes, _ := ct.MarshalBinary()
	return common.Keccak256Hash(nonce[:], ctBytes[:min(64, len(ctBytes))])
}
