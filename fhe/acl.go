// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var allowed = []byte{1}

// ACL records which accounts may use or decrypt a handle.
type ACL struct {
	db database.Database
}

func NewACL(db database.Database) *ACL {
	return &ACL{db: db}
}

func (a *ACL) Allow(handle common.Hash, account common.Address) error {
	return a.db.Put(aclKey(handle, account), allowed)
}

func (a *ACL) IsAllowed(handle common.Hash, account common.Address) (bool, error) {
	return a.db.Has(aclKey(handle, account))
}

func aclKey(handle common.Hash, account common.Address) []byte {
	key := make([]byte, common.HashLength+common.AddressLength)
	copy(key, handle[:])
	copy(key[common.HashLength:], account[:])
	return key
}
