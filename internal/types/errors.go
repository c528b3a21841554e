package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPolicy    = errors.New("invalid policy")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrLockUnavailable  = errors.New("lock unavailable")

	ErrInvalidBackend = errors.New("invalid backend")
	ErrStoreAccess    = errors.New("store read/write error")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}
