// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"errors"
	"fmt"
)

var (
	ErrLoadFailed      = errors.New("relayer sdk failed to load")
	ErrLoadTimeout     = errors.New("relayer sdk load timed out")
	ErrInitFailed      = errors.New("relayer sdk initialization failed")
	ErrIncompatibleSDK = errors.New("relayer sdk has an incompatible shape")
	ErrNotReady        = errors.New("relayer sdk is not ready")
	ErrMalformedHandle = errors.New("malformed ciphertext handle")
	ErrValueMissing    = errors.New("relayer returned no value for handle")
	ErrSignerMismatch  = errors.New("signer does not match caller")
)

// LifecycleError is a failure to bring the SDK to Ready. Lifecycle errors
// may be retried by calling Ensure again.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("relayer sdk %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func (*LifecycleError) Retryable() bool { return true }

// Retryable reports whether err came from the SDK lifecycle.
func Retryable(err error) bool {
	var lerr *LifecycleError
	return errors.As(err, &lerr) && lerr.Retryable()
}
