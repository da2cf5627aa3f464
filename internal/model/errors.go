package model

import (
	"errors"
	"fmt"
)

// ExternalError wraps a failure from a collaborator (market data, chain RPC,
// exchange, storage). It is recoverable: callers may retry, and the ledger is
// guaranteed not to have been partially mutated.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external: %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps err as an ExternalError, or returns nil when err is nil.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Err: err}
}

// IsExternal reports whether err is (or wraps) a collaborator failure.
func IsExternal(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee)
}
