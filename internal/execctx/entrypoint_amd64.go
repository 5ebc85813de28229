//go:build amd64

package execctx

import "unsafe"

// enterGuest transfers control to compiled guest code at codeAddr with the
// register-file base in rbp, the guest stack frame base in r14, and the
// guest execution context pointer in r13 (spec.md §6, with the r13-for-fs
// deviation documented on GuestExecutionContext). It returns the raw rax
// value a translation's leave/leave_with_cache left behind (spec.md §4.1).
//
// Implemented in entrypoint_amd64.s. There is no retrieval-pack assembly
// file for this: the Go-side declared-without-a-body pattern is grounded
// on internal/engine/compiler/engine.go's own `nativecall`, which is
// declared the same way and called across an unsafe.Pointer exactly as
// below.
func enterGuest(codeAddr uintptr, regsBase uintptr, stackBase uintptr, ctx *GuestExecutionContext) uint64

// Enter runs one compiled Translation's code (internal/translate.Translation)
// against the given register file and stack base, returning the raw
// execution-result bits spec.md §6 defines (bit 0 set on a block chain
// miss/dynamic exit, bit 1 the interrupt-pending snapshot).
//
// guestStack's high end is passed as the stack frame base: stack slots
// (internal/backend/x86.Func.AllocSpillSlot) are addressed as descending
// offsets from r14, so r14 must start at the top of the region.
func Enter(codeAddr uintptr, regs []byte, guestStack []byte, ctx *GuestExecutionContext) uint64 {
	if len(regs) == 0 {
		panic("BUG: execctx: Enter with empty register file")
	}
	if len(guestStack) == 0 {
		panic("BUG: execctx: Enter with empty guest stack")
	}
	stackTop := uintptr(unsafe.Pointer(&guestStack[len(guestStack)-1])) + 1
	return enterGuest(codeAddr, uintptr(unsafe.Pointer(&regs[0])), stackTop, ctx)
}
