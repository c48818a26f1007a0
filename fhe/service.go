// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
)

// ServiceName is the JSON-RPC namespace the relayer service is registered
// under.
const ServiceName = "relayer"

var ErrNotInitialized = errors.New("relayer service not initialized")

// Service exposes a Runtime over JSON-RPC the way a hosted relayer would:
// public parameters, input proof registration and user decryption.
type Service struct {
	runtime *Runtime
	log     log.Logger
}

func NewService(runtime *Runtime, logger log.Logger) *Service {
	return &Service{
		runtime: runtime,
		log:     logger,
	}
}

// ========================
// Metadata
// ========================

type MetadataArgs struct{}

type MetadataReply struct {
	ChainID   uint64         `json:"chainId"`
	Config    Config         `json:"config"`
	PublicKey hexutil.Bytes  `json:"publicKey"`
	Verifier  common.Address `json:"verifier"`
}

// Metadata returns what a client needs to encrypt inputs locally.
func (s *Service) Metadata(_ *http.Request, _ *MetadataArgs, reply *MetadataReply) error {
	if s.runtime == nil {
		return ErrNotInitialized
	}
	reply.ChainID = s.runtime.ChainID()
	reply.Config = s.runtime.Config()
	reply.PublicKey = s.runtime.PublicKey()
	reply.Verifier = s.runtime.VerifierAddress()
	return nil
}

// ========================
// Input Proofs
// ========================

type InputProofArgs struct {
	Contract    common.Address  `json:"contractAddress"`
	User        common.Address  `json:"userAddress"`
	Ciphertexts []hexutil.Bytes `json:"ciphertexts"`
}

type InputProofReply struct {
	Handles    []common.Hash `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

// InputProof registers client ciphertexts and returns their handles and the
// proof binding them to the contract and user.
func (s *Service) InputProof(_ *http.Request, args *InputProofArgs, reply *InputProofReply) error {
	if s.runtime == nil {
		return ErrNotInitialized
	}
	inputs := make([][]byte, len(args.Ciphertexts))
	for i, ct := range args.Ciphertexts {
		inputs[i] = ct
	}
	handles, proof, err := s.runtime.RegisterInputs(args.Contract, args.User, inputs)
	if err != nil {
		return fmt.Errorf("failed to register inputs: %w", err)
	}
	reply.Handles = handles
	reply.InputProof = proof
	return nil
}

// ========================
// User Decryption
// ========================

type UserDecryptReply struct {
	Values []SealedValue `json:"values"`
}

// UserDecrypt reveals handles to an authorized user, sealed to the
// request's ephemeral key.
func (s *Service) UserDecrypt(_ *http.Request, args *UserDecryptRequest, reply *UserDecryptReply) error {
	if s.runtime == nil {
		return ErrNotInitialized
	}
	values, err := s.runtime.UserDecrypt(args)
	if err != nil {
		return err
	}
	reply.Values = values
	s.log.Debug("user decrypt served",
		log.Stringer("user", args.User),
		log.Int("handles", len(values)),
	)
	return nil
}
