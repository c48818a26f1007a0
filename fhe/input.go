// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// MaxInputs bounds the number of ciphertexts one proof may attest.
const MaxInputs = 255

var (
	ErrInvalidProof     = errors.New("invalid input proof")
	ErrHandleNotInProof = errors.New("handle not covered by input proof")
	ErrTooManyInputs    = errors.New("too many inputs in one proof")
	ErrNoInputs         = errors.New("no inputs")
)

// An input proof is laid out as [n(1)] [handle(32)]*n [signature(65)]. The
// signature is produced by the runtime's verifier key over inputDigest and
// binds the handles to one (contract, user) pair on one chain.

// InputProof is the decoded form of an input proof.
type InputProof struct {
	Handles   []common.Hash
	Signature []byte
}

func (p *InputProof) Bytes() []byte {
	out := make([]byte, 0, 1+len(p.Handles)*common.HashLength+crypto.SignatureLength)
	out = append(out, byte(len(p.Handles)))
	for _, h := range p.Handles {
		out = append(out, h[:]...)
	}
	return append(out, p.Signature...)
}

// ParseInputProof decodes b without checking the signature.
func ParseInputProof(b []byte) (*InputProof, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidProof)
	}
	n := int(b[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: no handles", ErrInvalidProof)
	}
	want := 1 + n*common.HashLength + crypto.SignatureLength
	if len(b) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidProof, want, len(b))
	}
	p := &InputProof{
		Handles:   make([]common.Hash, n),
		Signature: common.CopyBytes(b[1+n*common.HashLength:]),
	}
	for i := range p.Handles {
		off := 1 + i*common.HashLength
		p.Handles[i] = common.BytesToHash(b[off : off+common.HashLength])
	}
	return p, nil
}

// Contains reports whether handle is attested by the proof.
func (p *InputProof) Contains(handle common.Hash) bool {
	for _, h := range p.Handles {
		if h == handle {
			return true
		}
	}
	return false
}

func inputDigest(chainID uint64, contract, user common.Address, handles []common.Hash) []byte {
	buf := make([]byte, 8, 8+2*common.AddressLength+len(handles)*common.HashLength)
	binary.BigEndian.PutUint64(buf, chainID)
	buf = append(buf, contract[:]...)
	buf = append(buf, user[:]...)
	for _, h := range handles {
		buf = append(buf, h[:]...)
	}
	return crypto.Keccak256(buf)
}

func signInputs(key *ecdsa.PrivateKey, chainID uint64, contract, user common.Address, handles []common.Hash) (*InputProof, error) {
	sig, err := crypto.Sign(inputDigest(chainID, contract, user, handles), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input proof: %w", err)
	}
	return &InputProof{Handles: handles, Signature: sig}, nil
}

// verifyInputs checks the proof was produced by verifier for the given
// binding.
func verifyInputs(p *InputProof, verifier common.Address, chainID uint64, contract, user common.Address) error {
	pub, err := crypto.SigToPub(inputDigest(chainID, contract, user, p.Handles), p.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if common.PubkeyToAddress(*pub) != verifier {
		return fmt.Errorf("%w: wrong signer or binding", ErrInvalidProof)
	}
	return nil
}
