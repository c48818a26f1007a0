// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

func recordKey(owner common.Address, categoryID uint32) []byte {
	key := make([]byte, 0, len(recordPrefix)+common.AddressLength+4)
	key = append(key, recordPrefix...)
	key = append(key, owner[:]...)
	return binary.BigEndian.AppendUint32(key, categoryID)
}

func indexKey(owner common.Address) []byte {
	return append(append([]byte{}, indexPrefix...), owner[:]...)
}

func nonceKey(addr common.Address) []byte {
	return append(append([]byte{}, noncePrefix...), addr[:]...)
}

func receiptKey(txHash common.Hash) []byte {
	return append(append([]byte{}, receiptPrefix...), txHash[:]...)
}

func getRecord(db database.KeyValueReader, owner common.Address, categoryID uint32) (common.Hash, bool, error) {
	raw, err := db.Get(recordKey(owner, categoryID))
	if errors.Is(err, database.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(raw), true, nil
}

// The index is a packed list of big-endian uint32 ids.
func getIndex(db database.KeyValueReader, owner common.Address) ([]uint32, error) {
	raw, err := db.Get(indexKey(owner))
	if errors.Is(err, database.ErrNotFound) {
		return []uint32{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt category index for %s", owner)
	}
	ids := make([]uint32, len(raw)/4)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return ids, nil
}

func appendIndex(db database.Database, owner common.Address, categoryID uint32) error {
	raw, err := db.Get(indexKey(owner))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	raw = binary.BigEndian.AppendUint32(common.CopyBytes(raw), categoryID)
	return db.Put(indexKey(owner), raw)
}

func putReceipt(db database.KeyValueWriter, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return db.Put(receiptKey(r.TxHash), data)
}

func getReceipt(db database.KeyValueReader, txHash common.Hash) (*Receipt, error) {
	raw, err := db.Get(receiptKey(txHash))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &r, nil
}
