// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/readingvault/api/server"
	"github.com/luxfi/readingvault/config"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/node"
	"github.com/luxfi/readingvault/utils/timer/mockable"
)

const shutdownTimeout = 5 * time.Second

func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Runs a development chain with the ledger and the relayer",
		RunE:  runFunc,
	}
}

func runFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	cfg, err := config.Load(flags, os.Getenv)
	if err != nil {
		return err
	}
	logger := log.NewLogger("readpref-node")

	// The node answers where clients in node mode look for it unless told
	// otherwise.
	listen := cfg.ListenAddress
	if !flags.Changed(config.ListenAddressKey) && os.Getenv(config.ListenAddressEnv) == "" {
		u, err := url.Parse(cfg.NodeURL)
		if err != nil {
			return err
		}
		listen = u.Host
	}

	contract := cfg.Contract()
	if contract == (common.Address{}) {
		contract = node.DefaultContract
	}

	db, err := node.OpenDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := node.New(db, node.Config{
		ChainID:  cfg.ChainID,
		Contract: contract,
		FHE:      cfg.FHE,
	}, &mockable.Clock{}, logger)
	if err != nil {
		return err
	}
	return Serve(c.Context(), n, listen, logger)
}

// Serve exposes n on listen until ctx is done.
func Serve(ctx context.Context, n *node.Node, listen string, logger log.Logger) error {
	registry := metric.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	interceptor, err := metrics.NewAPIInterceptor("readpref_node", registry)
	if err != nil {
		return err
	}
	handler, err := n.Handler(interceptor)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s, err := server.New(logger, listener, []string{"*"}, shutdownTimeout, registry, server.DefaultHTTPConfig())
	if err != nil {
		_ = listener.Close()
		return err
	}
	if err := s.AddRoute("node", "/", handler); err != nil {
		return err
	}
	if err := s.AddRoute("metrics", "/metrics", metrics.Handler(registry)); err != nil {
		return err
	}

	logger.Info("serving development node",
		log.Stringer("addr", s.Addr()),
		log.Stringer("contract", n.Ledger().Address()),
		log.Uint64("chainID", n.Ledger().ChainID()),
	)

	watcher := n.Watch(nil)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return watcher.Run(egCtx)
	})
	eg.Go(s.Dispatch)
	eg.Go(func() error {
		<-egCtx.Done()
		return s.Shutdown()
	})
	return eg.Wait()
}
