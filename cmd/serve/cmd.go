// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/api"
	"github.com/luxfi/readingvault/api/server"
	"github.com/luxfi/readingvault/app"
	"github.com/luxfi/readingvault/config"
	"github.com/luxfi/readingvault/metrics"
	"github.com/luxfi/readingvault/preference"
)

const (
	AllowedOriginsKey  = "allowed-origins"
	ShutdownTimeoutKey = "shutdown-timeout"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to call the vault API")
	flags.Duration(ShutdownTimeoutKey, 5*time.Second, "Time allowed for in-flight calls on shutdown")
}

type Config struct {
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

func ParseFlags(flags *pflag.FlagSet, _ []string) (*Config, error) {
	origins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}
	timeout, err := flags.GetDuration(ShutdownTimeoutKey)
	if err != nil {
		return nil, err
	}
	return &Config{
		AllowedOrigins:  origins,
		ShutdownTimeout: timeout,
	}, nil
}

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serves the connected wallet's vault over JSON-RPC",
		RunE:  serveFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func serveFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	serveConfig, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags, os.Getenv)
	if err != nil {
		return err
	}
	logger := log.NewLogger("readpref")

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := c.Context()
	if err := a.Connect(ctx); err != nil {
		// The store keeps the reason as its status; a later vault.Connect
		// can retry.
		logger.Warn("initial connect failed",
			log.Stringer("class", preference.Classify(err)),
			log.Err(err),
		)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	s, err := server.New(logger, listener, serveConfig.AllowedOrigins, serveConfig.ShutdownTimeout, a.Registry, server.DefaultHTTPConfig())
	if err != nil {
		_ = listener.Close()
		return err
	}
	if err := Routes(s, a, logger); err != nil {
		return err
	}
	logger.Info("serving vault",
		log.Stringer("addr", s.Addr()),
		log.Stringer("account", a.Signer.Address()),
	)
	return run(ctx, s)
}

// Routes mounts the vault, its metrics and, in local mode, the in-process
// chain on s.
func Routes(s *server.Server, a *app.App, logger log.Logger) error {
	handler, err := api.NewHandler(api.NewService(a.Store, a.Signer, logger), a.Metrics)
	if err != nil {
		return err
	}
	if err := s.AddRoute(api.ServiceName, "/", handler); err != nil {
		return err
	}
	if err := s.AddRoute("metrics", "/metrics", metrics.Handler(a.Registry)); err != nil {
		return err
	}
	if a.Node == nil {
		return nil
	}
	interceptor, err := metrics.NewAPIInterceptor(metrics.Namespace+"_node", a.Registry)
	if err != nil {
		return err
	}
	nodeHandler, err := a.Node.Handler(interceptor)
	if err != nil {
		return err
	}
	return s.AddRoute("node", "/node", nodeHandler)
}

func run(ctx context.Context, s *server.Server) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(s.Dispatch)
	eg.Go(func() error {
		<-egCtx.Done()
		return s.Shutdown()
	})
	return eg.Wait()
}
