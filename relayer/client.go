// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

const (
	// LocalChainID is the development chain. Its relayer expects user
	// decrypt signatures without the 0x prefix.
	LocalChainID = 31337

	// DefaultDurationDays is how long a user decrypt authorization is valid.
	DefaultDurationDays = 10

	handleHexLen = 2 * common.HashLength
)

// EncryptedValue is one encrypted value ready to submit to a contract.
type EncryptedValue struct {
	Handle common.Hash
	Proof  []byte
}

// Client runs encryption and user decryption against a Ready session. It
// never loads the SDK itself.
type Client struct {
	session *Session
	clock   *mockable.Clock
	log     log.Logger
}

func NewClient(session *Session, clock *mockable.Clock, logger log.Logger) *Client {
	return &Client{
		session: session,
		clock:   clock,
		log:     logger,
	}
}

func (c *Client) Session() *Session { return c.session }

// Encrypt encrypts value for use by caller in contract.
func (c *Client) Encrypt(ctx context.Context, contract, caller common.Address, value uint32) (*EncryptedValue, error) {
	handles, proof, err := c.EncryptBatch(ctx, contract, caller, []uint32{value})
	if err != nil {
		return nil, err
	}
	return &EncryptedValue{
		Handle: handles[0],
		Proof:  proof,
	}, nil
}

// EncryptBatch encrypts values under a single input proof. Handles are
// returned in the order of values.
func (c *Client) EncryptBatch(ctx context.Context, contract, caller common.Address, values []uint32) ([]common.Hash, []byte, error) {
	instance, err := c.session.Instance()
	if err != nil {
		return nil, nil, err
	}
	input := instance.CreateEncryptedInput(contract, caller)
	for _, v := range values {
		input = input.Add32(v)
	}
	inputs, err := input.Encrypt(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt input: %w", err)
	}
	if len(inputs.Handles) != len(values) {
		return nil, nil, fmt.Errorf("%w: expected %d handles, got %d", ErrMalformedHandle, len(values), len(inputs.Handles))
	}
	for _, h := range inputs.Handles {
		if err := ValidateHandle(h); err != nil {
			return nil, nil, err
		}
	}
	return inputs.Handles, inputs.InputProof, nil
}

// UserDecrypt reveals handle to caller. signer must sign for caller.
func (c *Client) UserDecrypt(ctx context.Context, handle common.Hash, contract, caller common.Address, signer Signer) (uint64, error) {
	if err := ValidateHandle(handle); err != nil {
		return 0, err
	}
	instance, err := c.session.Instance()
	if err != nil {
		return 0, err
	}
	if signer.Address() != caller {
		return 0, fmt.Errorf("%w: %s signs for %s", ErrSignerMismatch, signer.Address(), caller)
	}

	keypair, err := instance.GenerateKeypair()
	if err != nil {
		return 0, fmt.Errorf("failed to generate keypair: %w", err)
	}
	var (
		contracts = []common.Address{contract}
		start     = int64(c.clock.Unix())
	)
	typedData, err := instance.CreateEIP712(keypair.PublicKey, contracts, start, DefaultDurationDays)
	if err != nil {
		return 0, fmt.Errorf("failed to build authorization: %w", err)
	}
	sig, err := signer.SignTypedData(ctx, typedData)
	if err != nil {
		return 0, fmt.Errorf("failed to sign authorization: %w", err)
	}
	signature := hexutil.Encode(sig)
	if c.session.ChainID() == LocalChainID {
		signature = strings.TrimPrefix(signature, "0x")
	}

	values, err := instance.UserDecrypt(ctx, &DecryptRequest{
		Pairs:          []HandleContractPair{{Handle: handle, Contract: contract}},
		PrivateKey:     keypair.PrivateKey,
		PublicKey:      keypair.PublicKey,
		Signature:      signature,
		Contracts:      contracts,
		User:           caller,
		StartTimestamp: start,
		DurationDays:   DefaultDurationDays,
	})
	if err != nil {
		return 0, fmt.Errorf("user decrypt failed: %w", err)
	}
	value, ok := values[handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrValueMissing, handle)
	}
	c.log.Debug("user decrypt completed",
		log.Stringer("handle", handle),
		log.Stringer("contract", contract),
	)
	return value, nil
}

// ValidateHandle rejects the zero handle.
func ValidateHandle(h common.Hash) error {
	if h == (common.Hash{}) {
		return fmt.Errorf("%w: zero handle", ErrMalformedHandle)
	}
	return nil
}

// ParseHandle parses a 0x prefixed 32 byte hex handle.
func ParseHandle(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("%w: missing 0x prefix", ErrMalformedHandle)
	}
	if len(s)-2 != handleHexLen {
		return common.Hash{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformedHandle, handleHexLen, len(s)-2)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrMalformedHandle, err)
	}
	h := common.BytesToHash(b)
	return h, ValidateHandle(h)
}
