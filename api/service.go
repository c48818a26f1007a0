// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api serves a connected preference store over JSON-RPC.
package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/chain"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/preference"
	"github.com/luxfi/readingvault/relayer"
	"github.com/luxfi/readingvault/stats"
)

const ServiceName = "vault"

// Service exposes one wallet's store. Every call acts as signer.
type Service struct {
	store  *preference.Store
	signer relayer.Signer
	log    log.Logger
}

func NewService(store *preference.Store, signer relayer.Signer, logger log.Logger) *Service {
	return &Service{
		store:  store,
		signer: signer,
		log:    logger,
	}
}

// NewHandler returns a JSON-RPC handler for s, timed by interceptor.
func NewHandler(s *Service, interceptor metrics.APIInterceptor) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)
	return server, server.RegisterService(s, ServiceName)
}

// rpcError carries the error class to the caller alongside the message.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	return &json2.Error{
		Code:    json2.E_SERVER,
		Message: err.Error(),
		Data:    preference.Classify(err).String(),
	}
}

// detached keeps the request's values but not its cancellation. A write
// that reached the chain must still be followed by the re-sync.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// ========================
// Session
// ========================

type StateArgs struct{}

type StateReply struct {
	State preference.Snapshot `json:"state"`
}

// State returns the store snapshot without touching the ledger.
func (s *Service) State(_ *http.Request, _ *StateArgs, reply *StateReply) error {
	reply.State = s.store.State()
	return nil
}

type ConnectArgs struct{}

// Connect attaches the served wallet, restoring cached counts and syncing.
func (s *Service) Connect(r *http.Request, _ *ConnectArgs, reply *StateReply) error {
	s.log.Debug("API called",
		log.String("service", ServiceName),
		log.String("method", "connect"),
		log.Stringer("account", s.signer.Address()),
	)
	if err := s.store.Connect(r.Context(), s.signer); err != nil {
		return rpcError(err)
	}
	reply.State = s.store.State()
	return nil
}

type DisconnectArgs struct{}

func (s *Service) Disconnect(_ *http.Request, _ *DisconnectArgs, reply *StateReply) error {
	s.store.Disconnect()
	reply.State = s.store.State()
	return nil
}

type ReloadSDKArgs struct{}

// ReloadSDK discards the relayer SDK and loads it again.
func (s *Service) ReloadSDK(r *http.Request, _ *ReloadSDKArgs, reply *StateReply) error {
	s.log.Debug("API called",
		log.String("service", ServiceName),
		log.String("method", "reloadSDK"),
	)
	if err := s.store.ReloadSDK(r.Context()); err != nil {
		return rpcError(err)
	}
	reply.State = s.store.State()
	return nil
}

// ========================
// Preferences
// ========================

type AddArgs struct {
	CategoryID uint32 `json:"categoryId"`
	Count      int64  `json:"count"`
}

type AddReply struct {
	Receipt *chain.Receipt `json:"receipt"`
	Message string         `json:"message"`
}

// Add contributes count books to one category.
func (s *Service) Add(r *http.Request, args *AddArgs, reply *AddReply) error {
	s.log.Debug("API called",
		log.String("service", ServiceName),
		log.String("method", "add"),
		log.Uint32("categoryId", args.CategoryID),
	)
	receipt, err := s.store.AddCategoryPreference(detached(r), args.CategoryID, args.Count)
	if err != nil {
		return rpcError(err)
	}
	reply.Receipt = receipt
	reply.Message = s.store.Message()
	return nil
}

type BatchArgs struct {
	Entries []preference.Entry `json:"entries"`
}

// Batch contributes to several categories in one transaction.
func (s *Service) Batch(r *http.Request, args *BatchArgs, reply *AddReply) error {
	s.log.Debug("API called",
		log.String("service", ServiceName),
		log.String("method", "batch"),
		log.Int("entries", len(args.Entries)),
	)
	receipt, err := s.store.AddCategoryPreferences(detached(r), args.Entries)
	if err != nil {
		return rpcError(err)
	}
	reply.Receipt = receipt
	reply.Message = s.store.Message()
	return nil
}

type DecryptArgs struct {
	CategoryID uint32 `json:"categoryId"`
}

type DecryptReply struct {
	Count   uint64 `json:"count"`
	Message string `json:"message"`
}

// Decrypt reveals the wallet's running total for one category.
func (s *Service) Decrypt(r *http.Request, args *DecryptArgs, reply *DecryptReply) error {
	s.log.Debug("API called",
		log.String("service", ServiceName),
		log.String("method", "decrypt"),
		log.Uint32("categoryId", args.CategoryID),
	)
	count, err := s.store.DecryptCategoryCount(detached(r), args.CategoryID)
	if err != nil {
		return rpcError(err)
	}
	reply.Count = count
	reply.Message = s.store.Message()
	return nil
}

// ========================
// Categories
// ========================

type Category struct {
	ID        uint32      `json:"id"`
	Name      string      `json:"name"`
	Handle    common.Hash `json:"handle"`
	Decrypted bool        `json:"decrypted"`
	Count     uint64      `json:"count,omitempty"`
}

type CategoriesArgs struct{}

type CategoriesReply struct {
	Categories []Category `json:"categories"`
}

// Categories re-reads the wallet's categories from the ledger.
func (s *Service) Categories(r *http.Request, _ *CategoriesArgs, reply *CategoriesReply) error {
	if err := s.store.LoadUserCategories(r.Context()); err != nil {
		return rpcError(err)
	}
	reply.Categories = listCategories(s.store.State())
	return nil
}

func listCategories(state preference.Snapshot) []Category {
	ids := slices.Clone(state.Categories)
	slices.Sort(ids)
	list := make([]Category, 0, len(ids))
	for _, id := range ids {
		count, ok := state.Decrypted[id]
		list = append(list, Category{
			ID:        id,
			Name:      categories.ID(id).String(),
			Handle:    state.Handles[id],
			Decrypted: ok,
			Count:     count,
		})
	}
	return list
}

type VocabularyArgs struct{}

type VocabularyReply struct {
	Categories []Category `json:"categories"`
}

// Vocabulary lists every category the ledger understands.
func (*Service) Vocabulary(_ *http.Request, _ *VocabularyArgs, reply *VocabularyReply) error {
	for _, id := range categories.All() {
		reply.Categories = append(reply.Categories, Category{
			ID:   uint32(id),
			Name: id.String(),
		})
	}
	return nil
}

// ========================
// Dashboard
// ========================

type StatsArgs struct{}

type StatsReply struct {
	Summary      stats.Summary       `json:"summary"`
	Achievements []stats.Achievement `json:"achievements"`
	Unlocked     int                 `json:"unlocked"`
}

// Stats summarizes what has been decrypted so far.
func (s *Service) Stats(_ *http.Request, _ *StatsArgs, reply *StatsReply) error {
	reply.Summary = stats.Summarize(s.store.State())
	reply.Achievements = stats.Achievements(reply.Summary)
	reply.Unlocked = stats.Unlocked(reply.Achievements)
	return nil
}
