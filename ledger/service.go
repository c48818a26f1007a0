// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
)

// ServiceName is the JSON-RPC namespace of the ledger service.
const ServiceName = "ledger"

var (
	ErrBadSignature = errors.New("transaction signature does not match sender")
	ErrWrongTarget  = errors.New("no contract deployed at target address")
)

// TxDigest is the hash a sender signs to submit data with nonce to the
// ledger at contract.
func TxDigest(chainID uint64, contract common.Address, nonce uint64, data []byte) []byte {
	buf := binary.BigEndian.AppendUint64(nil, chainID)
	buf = append(buf, contract[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return crypto.Keccak256(buf, data)
}

// CallDigest is the hash a caller signs to evaluate a view as itself.
func CallDigest(chainID uint64, contract common.Address, data []byte) []byte {
	buf := append([]byte("call"), binary.BigEndian.AppendUint64(nil, chainID)...)
	buf = append(buf, contract[:]...)
	return crypto.Keccak256(buf, data)
}

func checkSender(digest, signature []byte, from common.Address) error {
	sig := common.CopyBytes(signature)
	if len(sig) == crypto.SignatureLength && sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil || common.PubkeyToAddress(*pub) != from {
		return ErrBadSignature
	}
	return nil
}

// Service exposes the ledger over JSON-RPC on the development node.
type Service struct {
	ledger *Ledger
	log    log.Logger
}

func NewService(ledger *Ledger, logger log.Logger) *Service {
	return &Service{
		ledger: ledger,
		log:    logger,
	}
}

// ========================
// Transactions
// ========================

type SendTransactionArgs struct {
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Nonce     uint64         `json:"nonce"`
	Data      hexutil.Bytes  `json:"data"`
	Signature hexutil.Bytes  `json:"signature"`
}

type SendTransactionReply struct {
	Receipt *Receipt `json:"receipt"`
}

// SendTransaction applies a signed write and returns its receipt once the
// block is committed. A revert is returned as an error carrying the reason.
func (s *Service) SendTransaction(_ *http.Request, args *SendTransactionArgs, reply *SendTransactionReply) error {
	if args.To != s.ledger.Address() {
		return fmt.Errorf("%w: %s", ErrWrongTarget, args.To)
	}
	digest := TxDigest(s.ledger.ChainID(), args.To, args.Nonce, args.Data)
	if err := checkSender(digest, args.Signature, args.From); err != nil {
		return err
	}

	receipt, err := s.ledger.Execute(args.From, args.Nonce, args.Data)
	if err != nil {
		s.log.Debug("transaction reverted",
			log.Stringer("from", args.From),
			log.Uint64("nonce", args.Nonce),
			log.Err(err),
		)
		return fmt.Errorf("execution reverted: %w", err)
	}
	reply.Receipt = receipt
	return nil
}

type GetReceiptArgs struct {
	TxHash common.Hash `json:"transactionHash"`
}

type GetReceiptReply struct {
	Receipt *Receipt `json:"receipt"`
}

func (s *Service) GetReceipt(_ *http.Request, args *GetReceiptArgs, reply *GetReceiptReply) error {
	receipt, err := s.ledger.Receipt(args.TxHash)
	if err != nil {
		return err
	}
	reply.Receipt = receipt
	return nil
}

// ========================
// Reads
// ========================

type CallArgs struct {
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Data      hexutil.Bytes  `json:"data"`
	Signature hexutil.Bytes  `json:"signature"`
}

type CallReply struct {
	Result hexutil.Bytes `json:"result"`
}

// Call evaluates a view with msg.sender set to From. From must have signed
// the call, since reads are restricted to the record owner.
func (s *Service) Call(_ *http.Request, args *CallArgs, reply *CallReply) error {
	if args.To != s.ledger.Address() {
		return fmt.Errorf("%w: %s", ErrWrongTarget, args.To)
	}
	if err := checkSender(CallDigest(s.ledger.ChainID(), args.To, args.Data), args.Signature, args.From); err != nil {
		return err
	}
	result, err := s.ledger.Query(args.From, args.Data)
	if err != nil {
		return fmt.Errorf("execution reverted: %w", err)
	}
	reply.Result = result
	return nil
}

type AddressArgs struct {
	Address common.Address `json:"address"`
}

type GetCodeReply struct {
	Code hexutil.Bytes `json:"code"`
}

func (s *Service) GetCode(_ *http.Request, args *AddressArgs, reply *GetCodeReply) error {
	reply.Code = s.ledger.Code(args.Address)
	return nil
}

type GetNonceReply struct {
	Nonce uint64 `json:"nonce"`
}

func (s *Service) GetNonce(_ *http.Request, args *AddressArgs, reply *GetNonceReply) error {
	nonce, err := s.ledger.Nonce(args.Address)
	if err != nil {
		return err
	}
	reply.Nonce = nonce
	return nil
}

type InfoArgs struct{}

type InfoReply struct {
	Address common.Address `json:"address"`
	ChainID uint64         `json:"chainId"`
	Height  uint64         `json:"height"`
}

func (s *Service) Info(_ *http.Request, _ *InfoArgs, reply *InfoReply) error {
	reply.Address = s.ledger.Address()
	reply.ChainID = s.ledger.ChainID()
	reply.Height = s.ledger.Height()
	return nil
}
