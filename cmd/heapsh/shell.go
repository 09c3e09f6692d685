package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/blockheap/memory"
	"golang.org/x/exp/slog"
)

type shell struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	heapSize int
	heap     *memory.Heap
	done     bool
}

func newShell(in io.Reader, out io.Writer, logger *slog.Logger, heapSize int) *shell {
	return &shell{
		in:       in,
		out:      out,
		logger:   logger,
		heapSize: heapSize,
	}
}

// run reads and dispatches lines until exit or the end of the input. The heap is released on return.
func (s *shell) run() error {
	defer s.release()

	fmt.Fprintln(s.out, "heapsh :: use 'help' for more info")
	fmt.Fprintln(s.out)

	scanner := bufio.NewScanner(s.in)
	for !s.done {
		fmt.Fprint(s.out, "$ ")

		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			break
		}

		s.dispatch(scanner.Text())
	}

	return errors.Wrap(scanner.Err(), "could not read input")
}

// dispatch runs a single line through a fresh command tree so flag values never leak between lines
func (s *shell) dispatch(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	cmd := s.commandTree()
	cmd.SetArgs(args)
	cmd.SetIn(s.in)
	cmd.SetOut(s.out)
	cmd.SetErr(s.out)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func (s *shell) commandTree() *cobra.Command {
	root := &cobra.Command{
		Use:           "heapsh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		s.newSetHeapCmd(),
		s.newHeapCmd(),
		s.newBlockCmd(),
		s.newMallocCmd(),
		s.newCallocCmd(),
		s.newReallocCmd(),
		s.newFreeCmd(),
		s.newSetCmd(),
		s.newStatsCmd(),
		s.newExitCmd(),
	)

	return root
}

// currentHeap returns the shell's heap, creating one of the configured size on first use
func (s *shell) currentHeap() (*memory.Heap, error) {
	if s.heap == nil {
		h, err := memory.NewHeap(s.logger, s.heapSize, memory.CreateOptions{CheckAddresses: true})
		if err != nil {
			return nil, err
		}
		s.heap = h
	}

	return s.heap, nil
}

func (s *shell) replaceHeap(size int) error {
	h, err := memory.NewHeap(s.logger, size, memory.CreateOptions{CheckAddresses: true})
	if err != nil {
		return err
	}

	s.release()
	s.heap = h
	return nil
}

func (s *shell) release() {
	if s.heap == nil {
		return
	}

	if err := s.heap.Destroy(); err != nil {
		s.logger.Error("could not release heap", slog.String("Error", err.Error()))
	}
	s.heap = nil
}

func parseAddress(arg string) (memory.Address, error) {
	value, err := strconv.ParseInt(arg, 0, 64)
	if err != nil || value < 0 {
		return memory.NilAddress, errors.Newf("invalid address '%s'", arg)
	}

	return memory.Address(value), nil
}

func parseSize(arg string) (int, error) {
	value, err := strconv.Atoi(arg)
	if err != nil || value < 0 {
		return 0, errors.Newf("invalid size '%s'", arg)
	}

	return value, nil
}
