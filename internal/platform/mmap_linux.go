//go:build linux

package platform

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func mmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	mapped, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "platform: mmap")
	}
	if _, err := io.ReadFull(code, mapped); err != nil {
		_ = unix.Munmap(mapped)
		return nil, errors.Wrap(err, "platform: read code into mapping")
	}
	if err := unix.Mprotect(mapped, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mapped)
		return nil, errors.Wrap(err, "platform: mprotect rx")
	}
	return mapped, nil
}

func munmapCodeSegment(code []byte) error {
	if err := unix.Munmap(code); err != nil {
		return errors.Wrap(err, "platform: munmap")
	}
	return nil
}
