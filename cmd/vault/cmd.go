// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault holds the one-shot wallet commands: each connects the
// configured wallet, performs one operation and prints the result.
package vault

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luxfi/log"
	"github.com/luxfi/readingvault/app"
	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/config"
	"github.com/luxfi/readingvault/preference"
	"github.com/luxfi/readingvault/stats"
)

const (
	CategoryKey = "category"
	CountKey    = "count"
)

// Commands returns every wallet command.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		addCommand(),
		batchCommand(),
		getCommand(),
		decryptCommand(),
		listCommand(),
		categoriesCommand(),
	}
}

func addCategoryFlag(flags *pflag.FlagSet) {
	flags.String(CategoryKey, "", "Category id or name (required)")
}

func parseCategory(flags *pflag.FlagSet) (categories.ID, error) {
	s, err := flags.GetString(CategoryKey)
	if err != nil {
		return 0, err
	}
	return categories.Parse(s)
}

// open builds and connects the configured wallet's app.
func open(c *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(c.Flags(), os.Getenv)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, log.NewLogger("readpref"))
	if err != nil {
		return nil, err
	}
	if err := a.Connect(c.Context()); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s error: %w", preference.Classify(err), err)
	}
	return a, nil
}

// withApp runs f against a connected app and reports errors with their
// class.
func withApp(f func(c *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, args []string) error {
		a, err := open(c)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := f(c, a, args); err != nil {
			return fmt.Errorf("%s error: %w", preference.Classify(err), err)
		}
		return nil
	}
}

func addCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "add",
		Short: "Adds an encrypted book count to a category",
		RunE: withApp(func(c *cobra.Command, a *app.App, _ []string) error {
			id, err := parseCategory(c.Flags())
			if err != nil {
				return err
			}
			count, err := c.Flags().GetInt64(CountKey)
			if err != nil {
				return err
			}
			receipt, err := a.Store.AddCategoryPreference(c.Context(), uint32(id), count)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), a.Store.Message())
			fmt.Fprintf(c.OutOrStdout(), "tx %s in block %d\n", receipt.TxHash.Hex(), receipt.BlockNumber)
			return nil
		}),
	}
	flags := c.Flags()
	addCategoryFlag(flags)
	flags.Int64(CountKey, 1, "Number of books")
	return c
}

func batchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch category=count...",
		Short: "Adds encrypted book counts to several categories in one transaction",
		Args:  cobra.RangeArgs(1, preference.MaxBatchSize),
		RunE: withApp(func(c *cobra.Command, a *app.App, args []string) error {
			entries, err := ParseEntries(args)
			if err != nil {
				return err
			}
			receipt, err := a.Store.AddCategoryPreferences(c.Context(), entries)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), a.Store.Message())
			fmt.Fprintf(c.OutOrStdout(), "tx %s in block %d\n", receipt.TxHash.Hex(), receipt.BlockNumber)
			return nil
		}),
	}
}

// ParseEntries parses category=count pairs. Categories are ids or names.
func ParseEntries(args []string) ([]preference.Entry, error) {
	entries := make([]preference.Entry, 0, len(args))
	for _, arg := range args {
		name, count, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected category=count, got %q", arg)
		}
		id, err := categories.Parse(name)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("count of %s: %w", id, err)
		}
		entries = append(entries, preference.Entry{Category: uint32(id), Count: n})
	}
	return entries, nil
}

func getCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "get",
		Short: "Prints the encrypted count handle of a category",
		RunE: withApp(func(c *cobra.Command, a *app.App, _ []string) error {
			id, err := parseCategory(c.Flags())
			if err != nil {
				return err
			}
			handle, ok := a.Store.State().Handles[uint32(id)]
			if !ok {
				fmt.Fprintf(c.OutOrStdout(), "%s: not initialized\n", id)
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", id, handle.Hex())
			return nil
		}),
	}
	addCategoryFlag(c.Flags())
	return c
}

func decryptCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypts the book count of a category",
		RunE: withApp(func(c *cobra.Command, a *app.App, _ []string) error {
			id, err := parseCategory(c.Flags())
			if err != nil {
				return err
			}
			if _, err := a.Store.DecryptCategoryCount(c.Context(), uint32(id)); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), a.Store.Message())
			return nil
		}),
	}
	addCategoryFlag(c.Flags())
	return c
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the wallet's categories and the counts decrypted so far",
		RunE: withApp(func(c *cobra.Command, a *app.App, _ []string) error {
			PrintState(c.OutOrStdout(), a.Store.State())
			return nil
		}),
	}
}

// PrintState writes one line per category followed by the dashboard
// summary.
func PrintState(w io.Writer, state preference.Snapshot) {
	ids := slices.Clone(state.Categories)
	slices.Sort(ids)
	if len(ids) == 0 {
		fmt.Fprintln(w, "no preferences recorded")
		return
	}
	for _, id := range ids {
		name := categories.ID(id).String()
		if count, ok := state.Decrypted[id]; ok {
			fmt.Fprintf(w, "%d %-16s %d books\n", id, name, count)
			continue
		}
		fmt.Fprintf(w, "%d %-16s encrypted\n", id, name)
	}

	summary := stats.Summarize(state)
	achievements := stats.Achievements(summary)
	fmt.Fprintf(w, "%d/%d decrypted, %d books, level %s, %d/%d achievements\n",
		summary.DecryptedCategories,
		summary.TotalCategories,
		summary.TotalBooks,
		summary.Level,
		stats.Unlocked(achievements),
		len(achievements),
	)
}

func categoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Lists the category vocabulary",
		RunE: func(c *cobra.Command, _ []string) error {
			for _, id := range categories.All() {
				fmt.Fprintf(c.OutOrStdout(), "%d %s\n", id, id)
			}
			return nil
		},
	}
}
