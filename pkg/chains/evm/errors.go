package evm

import "fmt"

// ChainIDMismatchError is returned when an endpoint serves a different chain than configured
type ChainIDMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *ChainIDMismatchError) Error() string {
	return fmt.Sprintf("chain id mismatch: configured %d, endpoint reports %d", e.Expected, e.Actual)
}

// RPCError represents an RPC-related error
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", e.Endpoint, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}
