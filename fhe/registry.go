// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

var (
	ciphertextMetaPrefix = []byte("cm:")
	decryptRequestPrefix = []byte("dr:")

	ErrMetaNotFound    = errors.New("ciphertext metadata not found")
	ErrRequestNotFound = errors.New("decrypt request not found")
)

// Origin records how a ciphertext entered the store.
type Origin uint8

const (
	OriginInput Origin = iota
	OriginAdd
)

func (o Origin) String() string {
	switch o {
	case OriginInput:
		return "input"
	case OriginAdd:
		return "add"
	default:
		return "unknown"
	}
}

// CiphertextMeta describes a stored ciphertext.
type CiphertextMeta struct {
	Handle       common.Hash    `json:"handle"`
	Contract     common.Address `json:"contract"`
	User         common.Address `json:"user"`
	Origin       Origin         `json:"origin"`
	Size         int            `json:"size"`
	RegisteredAt int64          `json:"registered_at"`
}

// RequestStatus is the outcome of a user decrypt request.
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota
	RequestCompleted
	RequestFailed
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestCompleted:
		return "completed"
	case RequestFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DecryptRequest is the audit record of a user decrypt request.
type DecryptRequest struct {
	RequestID   common.Hash      `json:"request_id"`
	User        common.Address   `json:"user"`
	Handles     []common.Hash    `json:"handles"`
	Contracts   []common.Address `json:"contracts"`
	Status      RequestStatus    `json:"status"`
	CreatedAt   int64            `json:"created_at"`
	CompletedAt int64            `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Registry stores ciphertext metadata and the decrypt request audit trail.
type Registry struct {
	db    database.Database
	clock *mockable.Clock
	mu    sync.RWMutex
}

func NewRegistry(db database.Database, clock *mockable.Clock) *Registry {
	return &Registry{
		db:    db,
		clock: clock,
	}
}

// ========================
// Ciphertext Metadata
// ========================

func (r *Registry) RegisterCiphertext(meta *CiphertextMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta.RegisteredAt = r.clock.UnixMilli()
	return r.put(ciphertextMetaPrefix, meta.Handle, meta)
}

func (r *Registry) GetCiphertextMeta(handle common.Hash) (*CiphertextMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var meta CiphertextMeta
	if err := r.get(ciphertextMetaPrefix, handle, &meta, ErrMetaNotFound); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ========================
// Decrypt Requests
// ========================

func (r *Registry) CreateDecryptRequest(req *DecryptRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req.Status = RequestPending
	req.CreatedAt = r.clock.UnixMilli()
	return r.put(decryptRequestPrefix, req.RequestID, req)
}

// CompleteDecryptRequest records the final status. A non-empty errMsg marks
// the request failed.
func (r *Registry) CompleteDecryptRequest(requestID common.Hash, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var req DecryptRequest
	if err := r.get(decryptRequestPrefix, requestID, &req, ErrRequestNotFound); err != nil {
		return err
	}
	req.CompletedAt = r.clock.UnixMilli()
	req.Status = RequestCompleted
	if errMsg != "" {
		req.Status = RequestFailed
		req.Error = errMsg
	}
	return r.put(decryptRequestPrefix, requestID, &req)
}

func (r *Registry) GetDecryptRequest(requestID common.Hash) (*DecryptRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var req DecryptRequest
	if err := r.get(decryptRequestPrefix, requestID, &req, ErrRequestNotFound); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecryptRequests returns every audited request made by user.
func (r *Registry) DecryptRequests(user common.Address) ([]*DecryptRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	iter := r.db.NewIteratorWithPrefix(decryptRequestPrefix)
	defer iter.Release()

	var out []*DecryptRequest
	for iter.Next() {
		var req DecryptRequest
		if err := json.Unmarshal(iter.Value(), &req); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decrypt request: %w", err)
		}
		if req.User == user {
			out = append(out, &req)
		}
	}
	return out, iter.Error()
}

func (r *Registry) put(prefix []byte, id common.Hash, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return r.db.Put(registryKey(prefix, id), data)
}

func (r *Registry) get(prefix []byte, id common.Hash, v any, notFound error) error {
	data, err := r.db.Get(registryKey(prefix, id))
	if errors.Is(err, database.ErrNotFound) {
		return notFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

func registryKey(prefix []byte, id common.Hash) []byte {
	key := make([]byte, 0, len(prefix)+common.HashLength)
	key = append(key, prefix...)
	return append(key, id[:]...)
}
