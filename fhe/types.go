// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe implements the FHE co-processor used by the reading vault on a
// development chain: euint32 ciphertexts under CKKS (luxfi/lattice),
// handle storage, access control, input proofs and authorized user
// decryption with sealed responses.
package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/lattice/v7/core/rlwe"
)

// headerLen is handle(32) + level(4) + scale(8) + ct_len(4).
const headerLen = 32 + 4 + 8 + 4

var (
	// ZeroHandle is returned for records that were never initialized.
	ZeroHandle = common.Hash{}

	ErrNilCiphertext = errors.New("nil ciphertext")
	ErrShortData     = errors.New("data too short")
)

// Ciphertext wraps an RLWE ciphertext with the handle it is stored under.
type Ciphertext struct {
	Handle common.Hash
	Ct     *rlwe.Ciphertext
	Level  int
	Scale  float64
}

// NewCiphertext wraps ct under handle.
func NewCiphertext(ct *rlwe.Ciphertext, handle common.Hash) *Ciphertext {
	return &Ciphertext{
		Handle: handle,
		Ct:     ct,
		Level:  ct.Level(),
		Scale:  ct.Scale.Float64(),
	}
}

// Serialize encodes the ciphertext as
// [handle(32)] [level(4)] [scale(8)] [ct_len(4)] [ct_bytes...].
func (c *Ciphertext) Serialize() ([]byte, error) {
	if c == nil || c.Ct == nil {
		return nil, ErrNilCiphertext
	}
	ctBytes, err := c.Ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ciphertext: %w", err)
	}

	out := make([]byte, headerLen+len(ctBytes))
	copy(out, c.Handle[:])
	binary.BigEndian.PutUint32(out[32:], uint32(c.Level))
	binary.BigEndian.PutUint64(out[36:], math.Float64bits(c.Scale))
	binary.BigEndian.PutUint32(out[44:], uint32(len(ctBytes)))
	copy(out[headerLen:], ctBytes)
	return out, nil
}

// Deserialize reverses Serialize.
func (c *Ciphertext) Deserialize(data []byte, params rlwe.ParameterProvider) error {
	if len(data) < headerLen {
		return ErrShortData
	}
	copy(c.Handle[:], data[:32])
	c.Level = int(binary.BigEndian.Uint32(data[32:]))
	c.Scale = math.Float64frombits(binary.BigEndian.Uint64(data[36:]))
	ctLen := int(binary.BigEndian.Uint32(data[44:]))
	if len(data) < headerLen+ctLen {
		return fmt.Errorf("%w for ciphertext", ErrShortData)
	}

	c.Ct = rlwe.NewCiphertext(params.GetRLWEParameters(), 1, c.Level)
	if err := c.Ct.UnmarshalBinary(data[headerLen : headerLen+ctLen]); err != nil {
		return fmt.Errorf("failed to unmarshal ciphertext: %w", err)
	}
	return nil
}

// decodeExternal parses a raw client ciphertext (no handle header).
func decodeExternal(data []byte, params rlwe.ParameterProvider, level int) (*rlwe.Ciphertext, error) {
	if len(data) == 0 {
		return nil, ErrShortData
	}
	ct := rlwe.NewCiphertext(params.GetRLWEParameters(), 1, level)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal external ciphertext: %w", err)
	}
	return ct, nil
}
