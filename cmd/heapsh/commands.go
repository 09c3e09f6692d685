package main

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/blockheap/memory"
	"github.com/vkngwrapper/blockheap/memutils"
	"github.com/vkngwrapper/blockheap/memutils/block"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func (s *shell) newSetHeapCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set_heap <size>",
		Aliases: []string{"set-heap"},
		Short:   "Replace the heap with a new one of the specified size",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(args[0])
			if err != nil {
				return err
			}

			if err := s.replaceHeap(size); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok %d\n", size)
			return nil
		},
	}
}

func (s *shell) newHeapCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "heap",
		Short: "Display the current heap layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.heap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}

			if jsonOut {
				writer := jwriter.NewWriter()
				s.heap.Allocator().PrintDetailedMap(&writer)
				if err := writer.Error(); err != nil {
					return errors.Wrap(err, "could not write heap layout")
				}

				fmt.Fprintln(cmd.OutOrStdout(), string(writer.Bytes()))
				return nil
			}

			printLayout(cmd.OutOrStdout(), s.heap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

func (s *shell) newBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <address>",
		Short: "Display the block holding the allocation at address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			b, err := h.Block(address)
			if err != nil {
				return err
			}

			printBlock(cmd.OutOrStdout(), b)
			return nil
		},
	}
}

func (s *shell) newMallocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "malloc <size>",
		Short: "Allocate size bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(args[0])
			if err != nil {
				return err
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", h.Malloc(size))
			return nil
		},
	}
}

func (s *shell) newCallocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calloc <n> <size>",
		Short: "Allocate n zeroed elements of size bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseSize(args[0])
			if err != nil {
				return err
			}

			size, err := parseSize(args[1])
			if err != nil {
				return err
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", h.Calloc(count, size))
			return nil
		},
	}
}

func (s *shell) newReallocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "realloc <address> <size>",
		Short: "Resize the allocation at address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			size, err := parseSize(args[1])
			if err != nil {
				return err
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", h.Realloc(address, size))
			return nil
		},
	}
}

func (s *shell) newFreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free <address>",
		Short: "Release the allocation at address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			if err := h.Free(address); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", address)
			return nil
		},
	}
}

func (s *shell) newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <address> <type> (= <value> | [] <length> <values...>)",
		Short: "Assign a value or an array of values at address",
		Long: `The set command writes values of type char, int or double to the start of the
allocation at address and retags the allocation with that type.

Example:
  set 0x18 int = 42
  set 0x18 double [] 3 1.5 -2 0.25`,
		// Negative values must not be parsed as flags
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 {
				return errors.New("usage: set <address> <type> (= <value> | [] <length> <values...>)")
			}

			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			kind, ok := block.ParseType(args[1])
			if !ok || kind == block.Free {
				return errors.Newf("invalid type '%s'", args[1])
			}

			var values []string
			switch args[2] {
			case "=":
				if len(args) != 4 {
					return errors.New("usage: set <address> <type> = <value>")
				}
				values = args[3:]
			case "[]":
				if len(args) < 4 {
					return errors.New("usage: set <address> <type> [] <length> <values...>")
				}

				length, err := parseSize(args[3])
				if err != nil {
					return err
				}

				values = args[4:]
				if len(values) != length {
					return errors.Newf("expected %d values, got %d", length, len(values))
				}
			default:
				return errors.New("invalid operation mode, use = or []")
			}

			h, err := s.currentHeap()
			if err != nil {
				return err
			}

			if err := storeValues(h, address, kind, values); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func storeValues(h *memory.Heap, address memory.Address, kind block.Type, values []string) error {
	switch kind {
	case block.Char:
		chars := make([]int8, len(values))
		for i, value := range values {
			if len(value) == 0 {
				return errors.Newf("invalid char '%s'", value)
			}
			chars[i] = int8(value[0])
		}
		return memory.Store(h, address, chars...)
	case block.Int:
		ints := make([]int32, len(values))
		for i, value := range values {
			parsed, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return errors.Newf("invalid int '%s'", value)
			}
			ints[i] = int32(parsed)
		}
		return memory.Store(h, address, ints...)
	default:
		doubles := make([]float64, len(values))
		for i, value := range values {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return errors.Newf("invalid double '%s'", value)
			}
			doubles[i] = parsed
		}
		return memory.Store(h, address, doubles...)
	}
}

func (s *shell) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Display heap usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.heap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}

			var stats memutils.DetailedStatistics
			stats.Clear()
			s.heap.Allocator().AddDetailedStatistics(&stats)

			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			p.Fprintf(out, "heap bytes:       %d\n", stats.HeapBytes)
			p.Fprintf(out, "blocks:           %d\n", stats.BlockCount)
			p.Fprintf(out, "metadata bytes:   %d\n", stats.MetadataBytes)
			p.Fprintf(out, "allocations:      %d (%d bytes)\n", stats.AllocationCount, stats.AllocationBytes)
			p.Fprintf(out, "free blocks:      %d (%d bytes)\n", stats.UnusedRangeCount, stats.UnusedBytes)
			p.Fprintf(out, "free regions:     %d\n", s.heap.Allocator().FreeRegionsCount())

			if stats.AllocationCount > 0 {
				p.Fprintf(out, "allocation sizes: %d - %d\n", stats.AllocationSizeMin, stats.AllocationSizeMax)
			}
			if stats.UnusedRangeCount > 0 {
				p.Fprintf(out, "free sizes:       %d - %d\n", stats.UnusedRangeSizeMin, stats.UnusedRangeSizeMax)
			}

			return nil
		},
	}
}

func (s *shell) newExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "exit",
		Aliases: []string{"quit"},
		Short:   "Exit the shell",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "goodbye")
			s.done = true
		},
	}
}
