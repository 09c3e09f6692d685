package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/vkngwrapper/blockheap/memory"
	"github.com/vkngwrapper/blockheap/memutils/block"
)

func printLayout(out io.Writer, h *memory.Heap) {
	fmt.Fprintf(out, "heap layout [%d]:\n", h.Size())

	for _, b := range h.Allocator().Blocks() {
		printBlock(out, b)
	}
}

func printBlock(out io.Writer, b block.Block) {
	fmt.Fprintf(out, "[ %s ]:\n", b.Data())
	fmt.Fprintf(out, "\ttype: %s\n", b.Type())
	fmt.Fprintf(out, "\tsize: %d\n", b.Size())

	elementSize := b.Type().ElementSize()
	if elementSize == 0 {
		return
	}

	data := b.Bytes()
	length := len(data) / elementSize

	var content strings.Builder
	for i := 0; i < length; i++ {
		content.WriteString(formatElement(b.Type(), data[i*elementSize:(i+1)*elementSize]))
		content.WriteByte(' ')
	}

	fmt.Fprintf(out, "\tcontent: [%d] { %s}\n", length, content.String())
}

func formatElement(kind block.Type, data []byte) string {
	switch kind {
	case block.Char:
		return strconv.QuoteRuneToASCII(rune(data[0]))
	case block.Int:
		return strconv.FormatInt(int64(int32(binary.NativeEndian.Uint32(data))), 10)
	default:
		return strconv.FormatFloat(math.Float64frombits(binary.NativeEndian.Uint64(data)), 'g', -1, 64)
	}
}
