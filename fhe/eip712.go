// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/luxfi/math"
)

const (
	DomainName    = "FHEVM"
	DomainVersion = "1"

	UserDecryptPrimaryType = "UserDecryptRequestVerification"
)

var (
	ErrNoContracts      = errors.New("at least one contract address is required")
	ErrInvalidSignature = errors.New("invalid signature")
)

// NewUserDecryptTypedData builds the EIP-712 authorization a user signs to
// reveal handles owned by contracts to the holder of publicKey. The first
// contract is the verifying contract of the domain.
func NewUserDecryptTypedData(
	chainID uint64,
	publicKey []byte,
	contracts []common.Address,
	startTimestamp int64,
	durationDays int64,
) (apitypes.TypedData, error) {
	if len(contracts) == 0 {
		return apitypes.TypedData{}, ErrNoContracts
	}
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			UserDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "string"},
				{Name: "durationDays", Type: "string"},
			},
		},
		PrimaryType: UserDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: contracts[0].Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
		},
	}, nil
}

// TypedDataHash returns the EIP-712 digest that is signed.
func TypedDataHash(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// RecoverTypedDataSigner returns the address that produced sig over td. V
// may be 0/1 or 27/28.
func RecoverTypedDataSigner(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	hash, err := TypedDataHash(td)
	if err != nil {
		return common.Address{}, err
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return common.PubkeyToAddress(*pub), nil
}
