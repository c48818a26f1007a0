// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the vault configuration from defaults, an optional
// TOML file, the environment and command-line flags, in that order.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/preference"
	"github.com/luxfi/readingvault/relayer"
)

// Modes select where the ledger and the relayer live.
const (
	// ModeLocal runs the FHE runtime and the ledger inside the process.
	ModeLocal = "local"
	// ModeNode talks to a development node serving both over JSON-RPC.
	ModeNode = "node"
	// ModeEth talks to an EVM chain through ethclient and to a remote relayer.
	ModeEth = "eth"
)

// DevKey is the first well-known development account of local chains.
const DevKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidContract    = errors.New("invalid contract address")
	ErrInvalidChainID     = errors.New("chain id must be non-zero")
	ErrInvalidURL         = errors.New("invalid url")
	ErrMissingURL         = errors.New("missing url")
	ErrInvalidPrivateKey  = errors.New("invalid private key")
	ErrMissingPrivateKey  = errors.New("private key is required in eth mode")
	ErrInvalidLoadTimeout = errors.New("load timeout must be positive")
	ErrInvalidCacheTTL    = errors.New("cache ttl must be positive")
)

// Config holds everything needed to build a Store and the surfaces around it.
type Config struct {
	Mode string `json:"mode" toml:"mode"` // local, node or eth

	// ContractAddress is the deployed ledger. Empty leaves the store
	// unconfigured.
	ContractAddress string `json:"contractAddress" toml:"contract-address"`
	ChainID         uint64 `json:"chainID" toml:"chain-id"`

	NodeURL    string `json:"nodeURL" toml:"node-url"`       // node mode
	RPCURL     string `json:"rpcURL" toml:"rpc-url"`         // eth mode
	RelayerURL string `json:"relayerURL" toml:"relayer-url"` // eth mode

	// PrivateKey is the hex-encoded wallet key. Local and node modes fall
	// back to DevKey.
	PrivateKey string `json:"-" toml:"private-key"`

	DataDir       string `json:"dataDir" toml:"data-dir"` // empty keeps state in memory
	ListenAddress string `json:"listenAddress" toml:"listen-address"`

	LoadTimeout time.Duration `json:"loadTimeout" toml:"load-timeout"`
	CacheTTL    time.Duration `json:"cacheTTL" toml:"cache-ttl"`

	FHE fhe.Config `json:"fhe" toml:"fhe"`
}

// DefaultConfig returns a config for a single-process development setup.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeLocal,
		ChainID:       relayer.LocalChainID,
		NodeURL:       "http://127.0.0.1:8545",
		ListenAddress: "127.0.0.1:9650",
		LoadTimeout:   relayer.DefaultLoadTimeout,
		CacheTTL:      preference.DefaultTTL,
		FHE:           fhe.DefaultConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
	case ModeNode:
		if err := checkURL("node", c.NodeURL); err != nil {
			return err
		}
	case ModeEth:
		if err := checkURL("rpc", c.RPCURL); err != nil {
			return err
		}
		if err := checkURL("relayer", c.RelayerURL); err != nil {
			return err
		}
		if c.PrivateKey == "" {
			return ErrMissingPrivateKey
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}

	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidContract, c.ContractAddress)
	}
	if c.ChainID == 0 {
		return ErrInvalidChainID
	}
	if c.PrivateKey != "" {
		if _, err := parseKey(c.PrivateKey); err != nil {
			return err
		}
	}
	if c.LoadTimeout <= 0 {
		return ErrInvalidLoadTimeout
	}
	if c.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}
	return c.FHE.Validate()
}

// Contract returns the configured ledger address, or the zero address.
func (c *Config) Contract() common.Address {
	if c.ContractAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.ContractAddress)
}

// Key returns the wallet key.
func (c *Config) Key() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		if c.Mode == ModeEth {
			return nil, ErrMissingPrivateKey
		}
		return parseKey(DevKey)
	}
	return parseKey(c.PrivateKey)
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

func checkURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s", ErrMissingURL, name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q", ErrInvalidURL, name, raw)
	}
	return nil
}
