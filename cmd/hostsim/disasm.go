//go:build hostsim

package main

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// disassemblePanicSite decodes up to maxInstructions starting at code[0],
// which the caller has positioned at a saved RIP, and renders them for the
// "BORUIX KERNEL PANIC" diagnostic screen's instruction-neighborhood dump.
func disassemblePanicSite(code []byte, rip uint64, maxInstructions int) string {
	var b strings.Builder

	offset := 0
	for i := 0; i < maxInstructions && offset < len(code); i++ {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			fmt.Fprintf(&b, "%#x: <decode error: %v>\n", rip+uint64(offset), err)
			break
		}

		marker := "  "
		if offset == 0 {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s %#x: %s\n", marker, rip+uint64(offset), x86asm.GNUSyntax(inst, rip+uint64(offset), nil))
		offset += inst.Len
	}

	return b.String()
}
