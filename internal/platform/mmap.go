// Package platform provides the PROT_EXEC-backed code segment the x86
// encoder's bytes are copied into before a Translation can run. Grounded
// on wazero's internal/platform mmap_test.go API shape (MmapCodeSegment /
// MunmapCodeSegment, panicking on a zero-length request), reimplemented
// here against golang.org/x/sys/unix since the teacher's own mmap_linux.go
// was not part of the retrieval pack.
package platform

import "io"

// MmapCodeSegment reads size bytes from code, copies them into a fresh
// PROT_READ|PROT_EXEC mapping, and returns a slice over that mapping.
func MmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	return mmapCodeSegment(code, size)
}

// MunmapCodeSegment releases a mapping returned by MmapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	return munmapCodeSegment(code)
}
