// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/lattice/v7/core/rlwe"
)

const ciphertextCacheSize = 256

var ErrCiphertextNotFound = errors.New("ciphertext not found")

// Store persists ciphertexts by handle and keeps recently used ones
// deserialized.
type Store struct {
	db     database.Database
	params rlwe.ParameterProvider
	cache  cache.Cacher[common.Hash, *Ciphertext]
}

func NewStore(db database.Database, params rlwe.ParameterProvider) *Store {
	return &Store{
		db:     db,
		params: params,
		cache:  lru.NewCache[common.Hash, *Ciphertext](ciphertextCacheSize),
	}
}

// Put writes ct under its handle and returns the encoded size.
func (s *Store) Put(ct *Ciphertext) (int, error) {
	data, err := ct.Serialize()
	if err != nil {
		return 0, err
	}
	if err := s.db.Put(ct.Handle[:], data); err != nil {
		return 0, fmt.Errorf("failed to store ciphertext: %w", err)
	}
	s.cache.Put(ct.Handle, ct)
	return len(data), nil
}

// Get loads the ciphertext stored under handle.
func (s *Store) Get(handle common.Hash) (*Ciphertext, error) {
	if ct, ok := s.cache.Get(handle); ok {
		return ct, nil
	}
	data, err := s.db.Get(handle[:])
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrCiphertextNotFound
	}
	if err != nil {
		return nil, err
	}
	ct := &Ciphertext{}
	if err := ct.Deserialize(data, s.params); err != nil {
		return nil, err
	}
	s.cache.Put(handle, ct)
	return ct, nil
}

// Has reports whether a ciphertext exists under handle.
func (s *Store) Has(handle common.Hash) (bool, error) {
	if _, ok := s.cache.Get(handle); ok {
		return true, nil
	}
	return s.db.Has(handle[:])
}
