// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"

	"github.com/pkg/errors"
)

func errorf(format string, args ...interface{}) error {
	return errors.New(fmt.Sprintf(format, args...))
}

// ApiError is the boundary error type returned across the engine/HTTP
// boundary. Exactly one of the typed constructors below should be used
// to build one; InternalError is the catch-all that provider-specific
// HTTP/parse errors map into.
type ApiError struct {
	kind    apiErrorKind
	id      string
	target  string
	message string
	cause   error
}

type apiErrorKind int

const (
	kindBlockNotFound apiErrorKind = iota
	kindInvalidOperation
	kindCyclicMove
	kindInternal
	kindUnknownOperation
)

func (e *ApiError) Error() string {
	switch e.kind {
	case kindBlockNotFound:
		return fmt.Sprintf("block not found: %s", e.id)
	case kindInvalidOperation:
		return fmt.Sprintf("invalid operation: %s", e.message)
	case kindCyclicMove:
		return fmt.Sprintf("cyclic move: %s -> %s", e.id, e.target)
	case kindUnknownOperation:
		return fmt.Sprintf("unknown operation: %s", e.message)
	default:
		return fmt.Sprintf("internal error: %s", e.message)
	}
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *ApiError) Unwrap() error { return e.cause }

// NewBlockNotFound builds the BlockNotFound variant.
func NewBlockNotFound(id string) *ApiError {
	return &ApiError{kind: kindBlockNotFound, id: id}
}

// NewInvalidOperation builds the InvalidOperation variant.
func NewInvalidOperation(message string) *ApiError {
	return &ApiError{kind: kindInvalidOperation, message: message}
}

// NewCyclicMove builds the CyclicMove variant.
func NewCyclicMove(id, targetParent string) *ApiError {
	return &ApiError{kind: kindCyclicMove, id: id, target: targetParent}
}

// NewInternalError builds the InternalError variant, optionally
// wrapping a cause (used to map provider-specific HTTP/parse errors at
// the boundary).
func NewInternalError(message string, cause error) *ApiError {
	return &ApiError{kind: kindInternal, message: message, cause: cause}
}

// NewUnknownOperation builds the dedicated UnknownOperationError
// variant, carrying entity/op for upper layers to chain alternative
// dispatchers.
func NewUnknownOperation(entityName, opName string) *ApiError {
	return &ApiError{kind: kindUnknownOperation, message: fmt.Sprintf("%s.%s", entityName, opName)}
}

// IsBlockNotFound reports whether err is (or wraps) a BlockNotFound ApiError.
func IsBlockNotFound(err error) bool { return hasKind(err, kindBlockNotFound) }

// IsInvalidOperation reports whether err is (or wraps) an InvalidOperation ApiError.
func IsInvalidOperation(err error) bool { return hasKind(err, kindInvalidOperation) }

// IsCyclicMove reports whether err is (or wraps) a CyclicMove ApiError.
func IsCyclicMove(err error) bool { return hasKind(err, kindCyclicMove) }

// IsUnknownOperation reports whether err is (or wraps) an
// UnknownOperationError.
func IsUnknownOperation(err error) bool { return hasKind(err, kindUnknownOperation) }

func hasKind(err error, k apiErrorKind) bool {
	var ae *ApiError
	if errors.As(err, &ae) {
		return ae.kind == k
	}
	return false
}
