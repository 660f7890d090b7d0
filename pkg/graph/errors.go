package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnectivity marks failures to reach the source or target store
	ErrConnectivity = errors.New("connectivity error")

	// ErrQuery marks malformed or rejected read/write operations
	ErrQuery = errors.New("query error")

	// ErrDataShape marks records missing a field a later step relies on.
	// These are logged and skipped, never returned from a run.
	ErrDataShape = errors.New("data shape error")
)

// StoreError is a classified failure from a source or target store
type StoreError struct {
	Class error
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Store, e.Op, e.Class, e.Err)
}

// Unwrap exposes both the class sentinel and the driver error to errors.Is/As
func (e *StoreError) Unwrap() []error {
	return []error{e.Class, e.Err}
}

// NewStoreError builds a StoreError. A nil err yields nil.
func NewStoreError(class error, store, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Class: class, Store: store, Op: op, Err: err}
}
