// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/readingvault/categories"
	"github.com/luxfi/readingvault/config"
	"github.com/luxfi/readingvault/node"
	"github.com/luxfi/readingvault/preference"
)

// execute runs one command line against a fresh command tree, the way the
// binary does.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{
		Use:           "readpref",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddFlags(root.PersistentFlags())
	root.AddCommand(Commands()...)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{
		"--" + config.DataDirKey, dataDir,
		"--" + config.ContractKey, node.DefaultContract.Hex(),
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	out, err := execute(t, dir, "add", "--category", "mystery", "--count", "4")
	require.NoError(err)
	require.Contains(out, "Added 4 books to Mystery")

	out, err = execute(t, dir, "batch", "mystery=2", "7=5")
	require.NoError(err)
	require.Contains(out, "Added 2 preferences")

	out, err = execute(t, dir, "get", "--category", "2")
	require.NoError(err)
	require.True(strings.HasPrefix(out, "Mystery: 0x"))

	out, err = execute(t, dir, "get", "--category", "fantasy")
	require.NoError(err)
	require.Equal("Fantasy: not initialized\n", out)

	out, err = execute(t, dir, "decrypt", "--category", "Mystery")
	require.NoError(err)
	require.Equal("Decrypted Mystery: 6 books\n", out)

	out, err = execute(t, dir, "list")
	require.NoError(err)
	require.Contains(out, "Mystery")
	require.Contains(out, "6 books")
	require.Contains(out, "encrypted")
	require.Contains(out, "1/2 decrypted, 6 books")

	_, err = execute(t, dir, "add", "--category", "mystery", "--count", "0")
	require.ErrorIs(err, preference.ErrInvalidCount)
	require.ErrorContains(err, "validation error")

	_, err = execute(t, dir, "decrypt", "--category", "fantasy")
	require.ErrorIs(err, preference.ErrNotInitialized)
}

func TestCategoriesCommand(t *testing.T) {
	require := require.New(t)

	out, err := execute(t, t.TempDir(), "categories")
	require.NoError(err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(lines, len(categories.All()))
	require.Equal("1 Science Fiction", lines[0])
}

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []preference.Entry
		wantErr bool
	}{
		{
			name: "names and ids",
			args: []string{"science fiction=3", "8=1"},
			want: []preference.Entry{{Category: 1, Count: 3}, {Category: 8, Count: 1}},
		},
		{
			name:    "missing count",
			args:    []string{"mystery"},
			wantErr: true,
		},
		{
			name:    "bad count",
			args:    []string{"mystery=many"},
			wantErr: true,
		},
		{
			name:    "unknown name",
			args:    []string{"poetry=1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntries(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPrintStateEmpty(t *testing.T) {
	var out bytes.Buffer
	PrintState(&out, preference.Snapshot{Handles: map[uint32]common.Hash{}})
	require.Equal(t, "no preferences recorded\n", out.String())
}
