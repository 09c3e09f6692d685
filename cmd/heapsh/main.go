// Command heapsh is an interactive shell for exercising a block heap. Each line read from the
// input is run as a command: allocations are made with malloc, calloc and realloc, released with
// free, filled with set, and inspected with heap, block and stats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/blockheap/memory"
	"golang.org/x/exp/slog"
)

var (
	verbose  bool
	heapSize int
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heapsh",
		Short: "Interactive shell over a first-fit block heap",
		Long: `heapsh reads commands from standard input and runs them against a single
fixed-size heap. Addresses are printed in hex and may be entered in hex (0x18)
or decimal (24). Type 'help' at the prompt for the list of commands.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			sh := newShell(cmd.InOrStdin(), cmd.OutOrStdout(), logger, heapSize)
			return sh.run()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator activity at debug level")
	cmd.Flags().IntVar(&heapSize, "heap-size", memory.DefaultHeapSize, "Size of the heap created on first use")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
