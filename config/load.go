// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const (
	ConfigFileKey    = "config-file"
	ModeKey          = "mode"
	ContractKey      = "contract"
	ChainIDKey       = "chain-id"
	NodeURLKey       = "node-url"
	RPCURLKey        = "rpc-url"
	RelayerURLKey    = "relayer-url"
	PrivateKeyKey    = "private-key"
	DataDirKey       = "data-dir"
	ListenAddressKey = "listen"
	LoadTimeoutKey   = "load-timeout"
	CacheTTLKey      = "cache-ttl"
)

// Environment variables. ContractEnv is shared with the browser build.
const (
	ContractEnv      = "VITE_CONTRACT_ADDRESS"
	EnvPrefix        = "READPREF_"
	ConfigFileEnv    = EnvPrefix + "CONFIG_FILE"
	ModeEnv          = EnvPrefix + "MODE"
	ContractAliasEnv = EnvPrefix + "CONTRACT_ADDRESS"
	ChainIDEnv       = EnvPrefix + "CHAIN_ID"
	NodeURLEnv       = EnvPrefix + "NODE_URL"
	RPCURLEnv        = EnvPrefix + "RPC_URL"
	RelayerURLEnv    = EnvPrefix + "RELAYER_URL"
	PrivateKeyEnv    = EnvPrefix + "PRIVATE_KEY"
	DataDirEnv       = EnvPrefix + "DATA_DIR"
	ListenAddressEnv = EnvPrefix + "LISTEN"
	LoadTimeoutEnv   = EnvPrefix + "LOAD_TIMEOUT"
	CacheTTLEnv      = EnvPrefix + "CACHE_TTL"
)

// AddFlags registers the configuration flags. Defaults are shown for
// reference only; unset flags never override the file or the environment.
func AddFlags(flags *pflag.FlagSet) {
	d := DefaultConfig()
	flags.String(ConfigFileKey, "", "Path to a TOML config file")
	flags.String(ModeKey, d.Mode, "Ledger access mode: local, node or eth")
	flags.String(ContractKey, "", "Ledger contract address")
	flags.Uint64(ChainIDKey, d.ChainID, "Chain ID")
	flags.String(NodeURLKey, d.NodeURL, "Development node endpoint")
	flags.String(RPCURLKey, "", "EVM JSON-RPC endpoint")
	flags.String(RelayerURLKey, "", "Relayer endpoint")
	flags.String(PrivateKeyKey, "", "Hex-encoded wallet private key")
	flags.String(DataDirKey, "", "Directory for persistent state, in memory when empty")
	flags.String(ListenAddressKey, d.ListenAddress, "HTTP listen address")
	flags.Duration(LoadTimeoutKey, d.LoadTimeout, "Relayer SDK load timeout")
	flags.Duration(CacheTTLKey, d.CacheTTL, "Decrypted count cache lifetime")
}

// Load builds the config from every source and validates it. getenv is
// usually os.Getenv.
func Load(flags *pflag.FlagSet, getenv func(string) string) (Config, error) {
	c := DefaultConfig()

	path := getenv(ConfigFileEnv)
	if flags.Changed(ConfigFileKey) {
		var err error
		path, err = flags.GetString(ConfigFileKey)
		if err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return Config{}, fmt.Errorf("couldn't read config file %q: %w", path, err)
		}
	}

	if err := applyEnv(&c, getenv); err != nil {
		return Config{}, err
	}
	if err := applyFlags(&c, flags); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config, getenv func(string) string) error {
	strs := []struct {
		env string
		dst *string
	}{
		{ModeEnv, &c.Mode},
		{ContractEnv, &c.ContractAddress},
		{ContractAliasEnv, &c.ContractAddress},
		{NodeURLEnv, &c.NodeURL},
		{RPCURLEnv, &c.RPCURL},
		{RelayerURLEnv, &c.RelayerURL},
		{PrivateKeyEnv, &c.PrivateKey},
		{DataDirEnv, &c.DataDir},
		{ListenAddressEnv, &c.ListenAddress},
	}
	for _, s := range strs {
		if v := getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if v := getenv(ChainIDEnv); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", ChainIDEnv, err)
		}
		c.ChainID = id
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{LoadTimeoutEnv, &c.LoadTimeout},
		{CacheTTLEnv, &c.CacheTTL},
	}
	for _, d := range durations {
		v := getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyFlags(c *Config, flags *pflag.FlagSet) error {
	strs := []struct {
		key string
		dst *string
	}{
		{ModeKey, &c.Mode},
		{ContractKey, &c.ContractAddress},
		{NodeURLKey, &c.NodeURL},
		{RPCURLKey, &c.RPCURL},
		{RelayerURLKey, &c.RelayerURL},
		{PrivateKeyKey, &c.PrivateKey},
		{DataDirKey, &c.DataDir},
		{ListenAddressKey, &c.ListenAddress},
	}
	for _, s := range strs {
		if !flags.Changed(s.key) {
			continue
		}
		v, err := flags.GetString(s.key)
		if err != nil {
			return err
		}
		*s.dst = v
	}

	if flags.Changed(ChainIDKey) {
		id, err := flags.GetUint64(ChainIDKey)
		if err != nil {
			return err
		}
		c.ChainID = id
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{LoadTimeoutKey, &c.LoadTimeout},
		{CacheTTLKey, &c.CacheTTL},
	}
	for _, d := range durations {
		if !flags.Changed(d.key) {
			continue
		}
		v, err := flags.GetDuration(d.key)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}
