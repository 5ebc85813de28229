//go:build !linux

package platform

import (
	"io"

	"github.com/pkg/errors"
)

func mmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	return nil, errors.New("platform: executable code segments are only supported on linux")
}

func munmapCodeSegment(code []byte) error {
	return errors.New("platform: executable code segments are only supported on linux")
}
