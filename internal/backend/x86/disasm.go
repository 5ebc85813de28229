package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble is a debug-only cross-check: decode the bytes Encoder just
// produced with an independent disassembler and report where decoding
// diverges from the instruction count we expected, catching encoder bugs
// that would otherwise only surface as a guest-side crash.
func Disassemble(code []byte) ([]string, error) {
	var out []string
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return out, fmt.Errorf("disasm: decode failed at offset %d: %w", off, err)
		}
		out = append(out, fmt.Sprintf("%04x: %s", off, x86asm.GNUSyntax(inst, uint64(off), nil)))
		if inst.Len == 0 {
			break
		}
		off += inst.Len
	}
	return out, nil
}
