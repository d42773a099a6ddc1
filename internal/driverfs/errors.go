// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package driverfs holds the error vocabulary shared between the document
// store client, the binary cache, and the filesystem driver, and the single
// place that collapses it to a POSIX errno at the kernel boundary.
package driverfs

import (
	"errors"
	"fmt"

	"github.com/cozy/cozyfuse/internal/logger"
	"golang.org/x/sys/unix"
)

// Kind classifies an error the way the components in this module agree to
// communicate failure internally, before it is collapsed to a POSIX errno
// at the fuseutil.FileSystem boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalid
	KindConflict
	KindIoError
	KindRemoteUnavailable
)

// Error is a Kind carrying a message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) error      { return New(KindNotFound, message) }
func AlreadyExists(message string) error { return New(KindAlreadyExists, message) }
func Invalid(message string) error       { return New(KindInvalid, message) }
func Conflict(message string) error      { return New(KindConflict, message) }

func IoError(message string, cause error) error {
	return Wrap(KindIoError, message, cause)
}

func RemoteUnavailable(message string, cause error) error {
	return Wrap(KindRemoteUnavailable, message, cause)
}

// KindOf extracts the Kind of err, or KindUnknown if err is nil or was not
// produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// ToErrno collapses any error returned by an internal component to the
// negative POSIX code the kernel callback boundary must return. Every kind
// other than NotFound/AlreadyExists/Invalid surfaces as ENOENT, per the
// failure semantics in the specification: kernel callbacks have no rich
// error channel, so unexpected errors are logged here before this
// conversion, and not retried.
func ToErrno(err error) error {
	if err == nil {
		return nil
	}

	switch KindOf(err) {
	case KindNotFound:
		return unix.ENOENT
	case KindAlreadyExists:
		return unix.EEXIST
	case KindInvalid:
		return unix.EINVAL
	default:
		logger.Errorf("driverfs: %v", err)
		return unix.ENOENT
	}
}
