package cmd

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

// mergeCmd represents the merge command.
var mergeCmd = newMergeCmd()

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <out> <snapshot>...",
		Short: "Merge runtime snapshots of one instrumented binary",
		Long: `Combine snapshots written by several runs of the same instrumented binary
into one, setting every point that any run reached.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := mergeSnapshotFiles(args[1:])
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := covfmt.WriteSnapshot(&buf, merged); err != nil {
				return err
			}

			if err := afero.WriteFile(appFs, args[0], buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}

			cmd.Printf("Merged %d snapshot(s): %d of %d points reached\n", len(args)-1, countBits(merged), len(merged)*32)

			return nil
		},
	}

	return cmd
}

func mergeSnapshotFiles(paths []string) ([]uint32, error) {
	var merged []uint32

	for i, path := range paths {
		data, err := afero.ReadFile(appFs, path)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}

		words, err := covfmt.DecodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}

		if i == 0 {
			merged = words
			continue
		}

		if merged, err = covfmt.MergeSnapshots(merged, words); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
	}

	return merged, nil
}

func countBits(words []uint32) int {
	n := 0
	for _, w := range words {
		n += bits.OnesCount32(w)
	}

	return n
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
