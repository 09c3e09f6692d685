package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when a heap buffer cannot be obtained, or when no free block in a heap
// is large enough to satisfy an allocation. Errors returned by this module wrap it with additional
// context, so it should be tested for with errors.Is.
var ErrOutOfMemory error = errors.New("out of memory")
