// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/lattice/v7/schemes/ckks"
)

var (
	ErrInvalidLogN  = errors.New("logN must be between 12 and 16")
	ErrInvalidLogQ  = errors.New("logQ must have at least one modulus")
	ErrInvalidLogP  = errors.New("logP must have at least one modulus")
	ErrInvalidScale = errors.New("default scale must be below the first modulus")
)

// Config holds the CKKS parameters shared by the runtime and every client
// that encrypts against its public key.
type Config struct {
	// LogN is the ring degree (log2).
	LogN int `json:"logN" toml:"log-n"`

	// LogQ is the ciphertext modulus chain (bits per level).
	LogQ []int `json:"logQ" toml:"log-q"`

	// LogP is the special modulus used for key-switching.
	LogP []int `json:"logP" toml:"log-p"`

	// LogDefaultScale is the encoding scale.
	LogDefaultScale int `json:"logDefaultScale" toml:"log-default-scale"`
}

// DefaultConfig returns parameters sized for additive euint32 workloads.
// Additions never consume a level, so the chain is kept short.
func DefaultConfig() Config {
	return Config{
		LogN:            13,
		LogQ:            []int{55, 40},
		LogP:            []int{61},
		LogDefaultScale: 30,
	}
}

// Validate checks the config for obvious mistakes before handing it to the
// parameter generator.
func (c Config) Validate() error {
	if c.LogN < 12 || c.LogN > 16 {
		return ErrInvalidLogN
	}
	if len(c.LogQ) == 0 {
		return ErrInvalidLogQ
	}
	if len(c.LogP) == 0 {
		return ErrInvalidLogP
	}
	if c.LogDefaultScale <= 0 || c.LogDefaultScale >= c.LogQ[0] {
		return ErrInvalidScale
	}
	return nil
}

// Parameters builds the CKKS parameter set.
func (c Config) Parameters() (ckks.Parameters, error) {
	if err := c.Validate(); err != nil {
		return ckks.Parameters{}, err
	}
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            c.LogN,
		LogQ:            c.LogQ,
		LogP:            c.LogP,
		LogDefaultScale: c.LogDefaultScale,
	})
	if err != nil {
		return ckks.Parameters{}, fmt.Errorf("failed to create CKKS parameters: %w", err)
	}
	return params, nil
}
