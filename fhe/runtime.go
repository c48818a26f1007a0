// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

const (
	// LocalChainID is the development chain id. Signatures submitted for
	// user decryption on it carry no 0x prefix.
	LocalChainID uint64 = 31337

	// MaxDurationDays bounds the validity window of a decrypt authorization.
	MaxDurationDays = 365

	// MaxDecryptPairs bounds the handles revealed by one request.
	MaxDecryptPairs = 32

	secondsPerDay = 24 * 60 * 60
)

var (
	keysPrefix     = []byte("keys")
	storePrefix    = []byte("ct")
	aclPrefix      = []byte("acl")
	registryPrefix = []byte("reg")

	secretKeyKey = []byte("sk")
	publicKeyKey = []byte("pk")
	verifierKey  = []byte("verifier")

	ErrNotAllowed            = errors.New("account is not allowed to use this handle")
	ErrInvalidRequest        = errors.New("invalid user decrypt request")
	ErrRequestExpired        = errors.New("user decrypt request expired")
	ErrRequestNotYetValid    = errors.New("user decrypt request not yet valid")
	ErrContractNotAuthorized = errors.New("contract not authorized by signature")
)

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	ChainID uint64 `json:"chainID"`
	FHE     Config `json:"fhe"`
}

// HandleContractPair names a handle and the contract it belongs to.
type HandleContractPair struct {
	Handle   common.Hash    `json:"handle"`
	Contract common.Address `json:"contractAddress"`
}

// UserDecryptRequest asks the runtime to reveal handles to User, sealed to
// the ephemeral PublicKey. Signature is the EIP-712 signature over the
// authorization built by NewUserDecryptTypedData.
type UserDecryptRequest struct {
	Pairs          []HandleContractPair `json:"handleContractPairs"`
	PublicKey      hexutil.Bytes        `json:"publicKey"`
	Signature      string               `json:"signature"`
	Contracts      []common.Address     `json:"contractAddresses"`
	User           common.Address       `json:"userAddress"`
	StartTimestamp int64                `json:"startTimestamp"`
	DurationDays   int64                `json:"durationDays"`
}

// SealedValue is a decrypted euint32 sealed to the request's public key.
type SealedValue struct {
	Handle common.Hash   `json:"handle"`
	Sealed hexutil.Bytes `json:"sealed"`
}

// Runtime is the FHE co-processor a ledger contract executes against. It
// owns the key material, the ciphertext store, the ACL and the input
// verifier key.
type Runtime struct {
	chainID uint64
	log     log.Logger
	clock   *mockable.Clock
	db      database.Database

	// processor evaluators keep scratch buffers and are not safe for
	// concurrent use. Shared with every Batch staged from this runtime.
	cryptoLock *sync.Mutex
	processor  *Processor
	publicKey  []byte

	store    *Store
	acl      *ACL
	registry *Registry

	verifier     *ecdsa.PrivateKey
	verifierAddr common.Address
}

// NewRuntime opens a runtime over db, loading keys stored there or
// generating and persisting new ones.
func NewRuntime(db database.Database, config RuntimeConfig, clock *mockable.Clock, logger log.Logger) (*Runtime, error) {
	processor, err := NewProcessor(config.FHE, logger)
	if err != nil {
		return nil, err
	}

	keysDB := prefixdb.New(keysPrefix, db)
	if err := loadOrGenerateKeys(keysDB, processor); err != nil {
		return nil, err
	}
	verifier, err := loadOrGenerateVerifier(keysDB)
	if err != nil {
		return nil, err
	}
	publicKey, err := processor.PublicKeyBytes()
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		chainID:      config.ChainID,
		log:          logger,
		clock:        clock,
		db:           db,
		cryptoLock:   &sync.Mutex{},
		processor:    processor,
		publicKey:    publicKey,
		store:        NewStore(prefixdb.New(storePrefix, db), processor.parameters()),
		acl:          NewACL(prefixdb.New(aclPrefix, db)),
		registry:     NewRegistry(prefixdb.New(registryPrefix, db), clock),
		verifier:     verifier,
		verifierAddr: common.PubkeyToAddress(verifier.PublicKey),
	}
	logger.Info("FHE runtime ready",
		log.Uint64("chainID", config.ChainID),
		log.Stringer("verifier", r.verifierAddr),
	)
	return r, nil
}

// Batch is a view of a Runtime whose ciphertext, ACL and registry writes
// stay in memory until Commit. Reads fall through to the parent.
type Batch struct {
	*Runtime
	vdb *versiondb.Database
}

// Stage opens a Batch over r. Callers must Commit or Abort it.
func (r *Runtime) Stage() *Batch {
	vdb := versiondb.New(r.db)
	staged := &Runtime{
		chainID:      r.chainID,
		log:          r.log,
		clock:        r.clock,
		db:           vdb,
		cryptoLock:   r.cryptoLock,
		processor:    r.processor,
		publicKey:    r.publicKey,
		store:        NewStore(prefixdb.New(storePrefix, vdb), r.processor.parameters()),
		acl:          NewACL(prefixdb.New(aclPrefix, vdb)),
		registry:     NewRegistry(prefixdb.New(registryPrefix, vdb), r.clock),
		verifier:     r.verifier,
		verifierAddr: r.verifierAddr,
	}
	return &Batch{Runtime: staged, vdb: vdb}
}

// Commit writes the staged changes to the parent runtime.
func (b *Batch) Commit() error {
	return b.vdb.Commit()
}

// Abort drops every staged change.
func (b *Batch) Abort() {
	b.vdb.Abort()
}

func loadOrGenerateKeys(db database.Database, p *Processor) error {
	sk, err := db.Get(secretKeyKey)
	switch {
	case err == nil:
		pk, err := db.Get(publicKeyKey)
		if err != nil {
			return fmt.Errorf("failed to load public key: %w", err)
		}
		return p.LoadKeys(sk, pk)
	case !errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("failed to load secret key: %w", err)
	}

	if err := p.GenerateKeys(); err != nil {
		return err
	}
	sk, pk, err := p.MarshalKeys()
	if err != nil {
		return err
	}
	if err := db.Put(secretKeyKey, sk); err != nil {
		return err
	}
	return db.Put(publicKeyKey, pk)
}

func loadOrGenerateVerifier(db database.Database) (*ecdsa.PrivateKey, error) {
	raw, err := db.Get(verifierKey)
	switch {
	case err == nil:
		return crypto.ToECDSA(raw)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("failed to load verifier key: %w", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := db.Put(verifierKey, crypto.FromECDSA(key)); err != nil {
		return nil, err
	}
	return key, nil
}

func (r *Runtime) ChainID() uint64 { return r.chainID }

func (r *Runtime) Config() Config { return r.processor.Config() }

// PublicKey returns the serialized FHE public key.
func (r *Runtime) PublicKey() []byte { return r.publicKey }

// VerifierAddress is the address that signs input proofs.
func (r *Runtime) VerifierAddress() common.Address { return r.verifierAddr }

func (r *Runtime) Registry() *Registry { return r.registry }

// RegisterInputs stores client ciphertexts under fresh handles and returns
// the handles together with a proof binding them to (contract, user).
func (r *Runtime) RegisterInputs(contract, user common.Address, inputs [][]byte) ([]common.Hash, []byte, error) {
	switch {
	case len(inputs) == 0:
		return nil, nil, ErrNoInputs
	case len(inputs) > MaxInputs:
		return nil, nil, ErrTooManyInputs
	}

	handles := make([]common.Hash, len(inputs))
	for i, in := range inputs {
		r.cryptoLock.Lock()
		ct, err := r.processor.Import(in)
		r.cryptoLock.Unlock()
		if err != nil {
			return nil, nil, fmt.Errorf("input %d: %w", i, err)
		}
		if err := r.persist(ct, contract, user, OriginInput); err != nil {
			return nil, nil, err
		}
		handles[i] = ct.Handle
	}

	proof, err := signInputs(r.verifier, r.chainID, contract, user, handles)
	if err != nil {
		return nil, nil, err
	}
	r.log.Debug("registered encrypted inputs",
		log.Stringer("contract", contract),
		log.Stringer("user", user),
		log.Int("count", len(handles)),
	)
	return handles, proof.Bytes(), nil
}

// FromExternal verifies that handle is attested by proof for (contract,
// user) and grants contract use of it.
func (r *Runtime) FromExternal(contract, user common.Address, handle common.Hash, proof []byte) (common.Hash, error) {
	p, err := ParseInputProof(proof)
	if err != nil {
		return ZeroHandle, err
	}
	if err := verifyInputs(p, r.verifierAddr, r.chainID, contract, user); err != nil {
		return ZeroHandle, err
	}
	if !p.Contains(handle) {
		return ZeroHandle, ErrHandleNotInProof
	}
	ok, err := r.store.Has(handle)
	if err != nil {
		return ZeroHandle, err
	}
	if !ok {
		return ZeroHandle, ErrCiphertextNotFound
	}
	if err := r.acl.Allow(handle, contract); err != nil {
		return ZeroHandle, err
	}
	return handle, nil
}

// Add computes a + b on behalf of contract, which must be allowed on both
// operands. The result is stored under a new handle.
func (r *Runtime) Add(contract common.Address, a, b common.Hash) (common.Hash, error) {
	for _, h := range []common.Hash{a, b} {
		if err := r.requireAllowed(h, contract); err != nil {
			return ZeroHandle, err
		}
	}
	ctA, err := r.store.Get(a)
	if err != nil {
		return ZeroHandle, err
	}
	ctB, err := r.store.Get(b)
	if err != nil {
		return ZeroHandle, err
	}

	r.cryptoLock.Lock()
	sum, err := r.processor.Add(ctA, ctB)
	r.cryptoLock.Unlock()
	if err != nil {
		return ZeroHandle, err
	}
	meta, err := r.registry.GetCiphertextMeta(a)
	user := common.Address{}
	if err == nil {
		user = meta.User
	}
	if err := r.persist(sum, contract, user, OriginAdd); err != nil {
		return ZeroHandle, err
	}
	return sum.Handle, nil
}

// Allow grants account use and decryption of handle.
func (r *Runtime) Allow(handle common.Hash, account common.Address) error {
	ok, err := r.store.Has(handle)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCiphertextNotFound
	}
	return r.acl.Allow(handle, account)
}

func (r *Runtime) IsAllowed(handle common.Hash, account common.Address) (bool, error) {
	return r.acl.IsAllowed(handle, account)
}

// UserDecrypt reveals the requested handles to req.User, each value sealed
// to req.PublicKey.
func (r *Runtime) UserDecrypt(req *UserDecryptRequest) ([]SealedValue, error) {
	if err := r.checkShape(req); err != nil {
		return nil, err
	}
	if err := r.checkWindow(req); err != nil {
		return nil, err
	}
	sig, err := r.parseSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	td, err := NewUserDecryptTypedData(r.chainID, req.PublicKey, req.Contracts, req.StartTimestamp, req.DurationDays)
	if err != nil {
		return nil, err
	}
	signer, err := RecoverTypedDataSigner(td, sig)
	if err != nil {
		return nil, err
	}
	if signer != req.User {
		return nil, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer)
	}

	audit := &DecryptRequest{
		RequestID: common.Keccak256Hash(sig, binary.BigEndian.AppendUint64(nil, uint64(r.clock.UnixMilli()))),
		User:      req.User,
		Contracts: req.Contracts,
	}
	for _, p := range req.Pairs {
		audit.Handles = append(audit.Handles, p.Handle)
	}
	if err := r.registry.CreateDecryptRequest(audit); err != nil {
		return nil, err
	}

	out, err := r.reveal(req)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if auditErr := r.registry.CompleteDecryptRequest(audit.RequestID, errMsg); auditErr != nil {
		r.log.Warn("failed to record decrypt request", log.Err(auditErr))
	}
	if err != nil {
		r.log.Debug("user decrypt rejected",
			log.Stringer("user", req.User),
			log.Err(err),
		)
		return nil, err
	}
	return out, nil
}

func (r *Runtime) reveal(req *UserDecryptRequest) ([]SealedValue, error) {
	out := make([]SealedValue, 0, len(req.Pairs))
	for _, pair := range req.Pairs {
		if !containsAddress(req.Contracts, pair.Contract) {
			return nil, fmt.Errorf("%w: %s", ErrContractNotAuthorized, pair.Contract)
		}
		if err := r.requireAllowed(pair.Handle, req.User); err != nil {
			return nil, err
		}
		if err := r.requireAllowed(pair.Handle, pair.Contract); err != nil {
			return nil, err
		}
		value, err := r.decrypt(pair.Handle)
		if err != nil {
			return nil, err
		}
		sealed, err := Seal(req.PublicKey, binary.BigEndian.AppendUint32(nil, value))
		if err != nil {
			return nil, err
		}
		out = append(out, SealedValue{Handle: pair.Handle, Sealed: sealed})
	}
	return out, nil
}

func (r *Runtime) decrypt(handle common.Hash) (uint32, error) {
	ct, err := r.store.Get(handle)
	if err != nil {
		return 0, err
	}
	r.cryptoLock.Lock()
	defer r.cryptoLock.Unlock()
	return r.processor.Decrypt(ct)
}

func (r *Runtime) checkShape(req *UserDecryptRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	case len(req.Pairs) == 0:
		return fmt.Errorf("%w: no handles", ErrInvalidRequest)
	case len(req.Pairs) > MaxDecryptPairs:
		return fmt.Errorf("%w: more than %d handles", ErrInvalidRequest, MaxDecryptPairs)
	case len(req.Contracts) == 0:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrNoContracts)
	case len(req.PublicKey) != 32:
		return fmt.Errorf("%w: public key must be 32 bytes", ErrInvalidRequest)
	case req.DurationDays <= 0 || req.DurationDays > MaxDurationDays:
		return fmt.Errorf("%w: duration must be between 1 and %d days", ErrInvalidRequest, MaxDurationDays)
	}
	for _, p := range req.Pairs {
		if p.Handle == ZeroHandle {
			return fmt.Errorf("%w: zero handle", ErrInvalidRequest)
		}
	}
	return nil
}

func (r *Runtime) checkWindow(req *UserDecryptRequest) error {
	now := int64(r.clock.Unix())
	if now < req.StartTimestamp {
		return ErrRequestNotYetValid
	}
	if now >= req.StartTimestamp+req.DurationDays*secondsPerDay {
		return ErrRequestExpired
	}
	return nil
}

// parseSignature decodes a hex signature. The local chain expects it bare,
// every other chain expects a 0x prefix.
func (r *Runtime) parseSignature(s string) ([]byte, error) {
	prefixed := strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
	if r.chainID == LocalChainID {
		if prefixed {
			return nil, fmt.Errorf("%w: unexpected 0x prefix on local chain", ErrInvalidSignature)
		}
		s = "0x" + s
	} else if !prefixed {
		return nil, fmt.Errorf("%w: missing 0x prefix", ErrInvalidSignature)
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return sig, nil
}

func (r *Runtime) requireAllowed(handle common.Hash, account common.Address) error {
	ok, err := r.acl.IsAllowed(handle, account)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrNotAllowed, account, handle)
	}
	return nil
}

func (r *Runtime) persist(ct *Ciphertext, contract, user common.Address, origin Origin) error {
	size, err := r.store.Put(ct)
	if err != nil {
		return err
	}
	return r.registry.RegisterCiphertext(&CiphertextMeta{
		Handle:   ct.Handle,
		Contract: contract,
		User:     user,
		Origin:   origin,
		Size:     size,
	})
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
