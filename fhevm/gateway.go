// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/readingvault/fhe"
	"github.com/luxfi/readingvault/utils/rpc"
)

// Gateway is the relayer as seen by an SDK instance.
type Gateway interface {
	Metadata(ctx context.Context) (*fhe.MetadataReply, error)
	InputProof(ctx context.Context, contract, user common.Address, ciphertexts [][]byte) ([]common.Hash, []byte, error)
	UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) ([]fhe.SealedValue, error)
}

var (
	_ Gateway = (*localGateway)(nil)
	_ Gateway = (*remoteGateway)(nil)
)

type localGateway struct {
	runtime *fhe.Runtime
}

func (g *localGateway) Metadata(context.Context) (*fhe.MetadataReply, error) {
	return &fhe.MetadataReply{
		ChainID:   g.runtime.ChainID(),
		Config:    g.runtime.Config(),
		PublicKey: g.runtime.PublicKey(),
		Verifier:  g.runtime.VerifierAddress(),
	}, nil
}

func (g *localGateway) InputProof(_ context.Context, contract, user common.Address, ciphertexts [][]byte) ([]common.Hash, []byte, error) {
	return g.runtime.RegisterInputs(contract, user, ciphertexts)
}

func (g *localGateway) UserDecrypt(_ context.Context, req *fhe.UserDecryptRequest) ([]fhe.SealedValue, error) {
	return g.runtime.UserDecrypt(req)
}

// remoteGateway calls a relayer service over JSON-RPC.
type remoteGateway struct {
	requester rpc.Requester
}

func newRemoteGateway(uri *url.URL, client *http.Client) *remoteGateway {
	return &remoteGateway{requester: rpc.NewRequester(uri, client)}
}

func (g *remoteGateway) Metadata(ctx context.Context) (*fhe.MetadataReply, error) {
	var reply fhe.MetadataReply
	if err := g.requester.SendRequest(ctx, fhe.ServiceName+".Metadata", &fhe.MetadataArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (g *remoteGateway) InputProof(ctx context.Context, contract, user common.Address, ciphertexts [][]byte) ([]common.Hash, []byte, error) {
	args := &fhe.InputProofArgs{
		Contract:    contract,
		User:        user,
		Ciphertexts: make([]hexutil.Bytes, len(ciphertexts)),
	}
	for i, ct := range ciphertexts {
		args.Ciphertexts[i] = ct
	}
	var reply fhe.InputProofReply
	if err := g.requester.SendRequest(ctx, fhe.ServiceName+".InputProof", args, &reply); err != nil {
		return nil, nil, err
	}
	return reply.Handles, reply.InputProof, nil
}

func (g *remoteGateway) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) ([]fhe.SealedValue, error) {
	var reply fhe.UserDecryptReply
	if err := g.requester.SendRequest(ctx, fhe.ServiceName+".UserDecrypt", req, &reply); err != nil {
		return nil, err
	}
	return reply.Values, nil
}
