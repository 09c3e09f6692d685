//go:build unix

package heap

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func obtain(size int) ([]byte, func([]byte) error, error) {
	// mmap rejects zero-length mappings, but a heap always needs a base address
	length := size
	if length == 0 {
		length = 1
	}

	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mmap failed")
	}

	return data, unmap, nil
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}
