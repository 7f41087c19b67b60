// Copyright 2022 MatrixOrigin.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package bulk

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrExecutorClosed the executor is closed
	ErrExecutorClosed = errors.New("bulk executor is closed")
	// ErrOperationTooLarge the operation can not be encoded within the wire
	// size limit even alone in a batch
	ErrOperationTooLarge = errors.New("operation too large for a batch")
	// ErrMissingResult the response has no result for the operation
	ErrMissingResult = errors.New("missing operation result in response")
	// ErrInvalidOperation the operation can not be executed in bulk
	ErrInvalidOperation = errors.New("invalid bulk operation")
)

// StatusError is the error of an operation that completed with a non
// retryable status, or whose retries were exhausted.
type StatusError struct {
	Status    int
	SubStatus int
	Reason    string
}

// Error implements error
func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("operation failed with status %d/%d", e.Status, e.SubStatus)
	}
	return fmt.Sprintf("operation failed with status %d/%d: %s", e.Status, e.SubStatus, e.Reason)
}

// IsStatus returns true if err is a StatusError with the status
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

func newValidationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidOperation, format, args...)
}
