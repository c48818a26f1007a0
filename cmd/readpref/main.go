// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/readingvault/cmd/node"
	"github.com/luxfi/readingvault/cmd/serve"
	"github.com/luxfi/readingvault/cmd/vault"
	"github.com/luxfi/readingvault/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cobra.Command{
		Use:          "readpref",
		Short:        "Encrypted reading preference vault",
		SilenceUsage: true,
	}
	config.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		node.Command(),
		serve.Command(),
	)
	cmd.AddCommand(vault.Commands()...)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		stop()
		os.Exit(1)
	}
}
