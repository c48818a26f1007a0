// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package preference

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

const (
	CountsKey   = "liib-vault-decrypted-counts"
	UserKey     = "liib-vault-user-address"
	ContractKey = "liib-vault-contract-address"

	// DefaultTTL is how long decrypted counts are trusted.
	DefaultTTL = 24 * time.Hour
)

// cacheBlob is the persisted form of the decrypted counts. Timestamp is in
// milliseconds.
type cacheBlob struct {
	Address   string      `json:"address"`
	Counts    [][2]uint64 `json:"counts"`
	Timestamp int64       `json:"timestamp"`
}

// Cache persists decrypted counts for one owner. It is a hint only; the
// ledger stays authoritative.
type Cache struct {
	db    database.Database
	clock *mockable.Clock
	ttl   time.Duration
}

func NewCache(db database.Database, clock *mockable.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		db:    db,
		clock: clock,
		ttl:   ttl,
	}
}

// Invalidate drops the cached counts when the last seen owner or contract
// differs from the current ones, then records the current ones. It reports
// whether anything was dropped.
func (c *Cache) Invalidate(owner, contract common.Address) (bool, error) {
	ownerChanged, err := c.differs(UserKey, owner)
	if err != nil {
		return false, err
	}
	contractChanged, err := c.differs(ContractKey, contract)
	if err != nil {
		return false, err
	}
	dropped := false
	if ownerChanged || contractChanged {
		has, err := c.db.Has([]byte(CountsKey))
		if err != nil {
			return false, err
		}
		if has {
			if err := c.Clear(); err != nil {
				return false, err
			}
			dropped = true
		}
	}
	if err := c.db.Put([]byte(UserKey), []byte(owner.Hex())); err != nil {
		return false, err
	}
	if err := c.db.Put([]byte(ContractKey), []byte(contract.Hex())); err != nil {
		return false, err
	}
	return dropped, nil
}

func (c *Cache) differs(key string, current common.Address) (bool, error) {
	stored, err := c.db.Get([]byte(key))
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !strings.EqualFold(string(stored), current.Hex()), nil
}

// Load returns the counts stored for owner. Nothing is returned for another
// owner or once the entry is older than the TTL.
func (c *Cache) Load(owner common.Address) (map[uint32]uint64, error) {
	raw, err := c.db.Get([]byte(CountsKey))
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var blob cacheBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode cached counts: %w", err)
	}
	if !strings.EqualFold(blob.Address, owner.Hex()) {
		return nil, nil
	}
	age := c.clock.Time().Sub(time.UnixMilli(blob.Timestamp))
	if age > c.ttl {
		return nil, c.Clear()
	}
	counts := make(map[uint32]uint64, len(blob.Counts))
	for _, entry := range blob.Counts {
		counts[uint32(entry[0])] = entry[1]
	}
	return counts, nil
}

// Store replaces the cached counts with counts for owner.
func (c *Cache) Store(owner common.Address, counts map[uint32]uint64) error {
	blob := cacheBlob{
		Address:   owner.Hex(),
		Counts:    make([][2]uint64, 0, len(counts)),
		Timestamp: c.clock.UnixMilli(),
	}
	for id, v := range counts {
		blob.Counts = append(blob.Counts, [2]uint64{uint64(id), v})
	}
	slices.SortFunc(blob.Counts, func(a, b [2]uint64) int {
		switch {
		case a[0] < b[0]:
			return -1
		case a[0] > b[0]:
			return 1
		default:
			return 0
		}
	})
	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return c.db.Put([]byte(CountsKey), raw)
}

// Clear drops the cached counts.
func (c *Cache) Clear() error {
	return c.db.Delete([]byte(CountsKey))
}
