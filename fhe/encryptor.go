// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"
	"math"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/ckks"
)

var ErrEmptyPublicKey = errors.New("empty public key")

// PublicEncryptor encrypts euint32 values under a runtime's public key. It
// holds no secret material and is what clients use off-chain.
type PublicEncryptor struct {
	params    ckks.Parameters
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
}

// NewPublicEncryptor parses a serialized public key produced by
// Processor.PublicKeyBytes.
func NewPublicEncryptor(config Config, publicKey []byte) (*PublicEncryptor, error) {
	if len(publicKey) == 0 {
		return nil, ErrEmptyPublicKey
	}
	params, err := config.Parameters()
	if err != nil {
		return nil, err
	}
	pk := rlwe.NewPublicKey(params.Parameters)
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return &PublicEncryptor{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params.Parameters, pk),
	}, nil
}

// EncryptUint32 returns the serialized ciphertext of value.
func (e *PublicEncryptor) EncryptUint32(value uint32) ([]byte, error) {
	ct, err := encryptValue(e.params, e.encoder, e.encryptor, value)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func encryptValue(params ckks.Parameters, encoder *ckks.Encoder, encryptor *rlwe.Encryptor, value uint32) (*rlwe.Ciphertext, error) {
	// Only the first slot carries the value.
	values := make([]float64, params.MaxSlots())
	values[0] = float64(value)

	pt := ckks.NewPlaintext(params, params.MaxLevel())
	if err := encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	ct := rlwe.NewCiphertext(params.Parameters, 1, params.MaxLevel())
	if err := encryptor.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return ct, nil
}

// toUint32 rounds a decoded slot to the nearest integer and wraps it to 32
// bits, matching euint32 overflow.
func toUint32(v float64) uint32 {
	r := math.Round(v)
	if r <= 0 {
		return 0
	}
	return uint32(uint64(r) & math.MaxUint32)
}
