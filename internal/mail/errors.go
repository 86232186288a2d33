// Copyright (c) 2026 John Earle
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

package mail

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Callers branch on the kind, never
// on error strings.
type Kind int

const (
	// KindUnexpected is the catch-all for unclassified runtime failures.
	KindUnexpected Kind = iota

	// KindNotFound means the requested message or folder no longer
	// exists, usually a race with concurrent deletion by another
	// client, so it is logged at debug level, not error.
	KindNotFound

	// KindConnectionTransient means the remote session was closed
	// unexpectedly. This is the only kind eligible for retry.
	KindConnectionTransient

	// KindUnsupported means a requested capability is absent on the
	// backend (e.g. structured threading).
	KindUnsupported

	// KindInvalidInput covers malformed folder identifiers, bad
	// pagination ranges and too-short search patterns.
	KindInvalidInput

	// KindQuotaExceeded means an append or copy failed due to storage
	// quota, surfaced distinctly so callers can render it.
	KindQuotaExceeded

	// KindListenerDenied means a fetch listener explicitly rejected
	// the fetch.
	KindListenerDenied

	// KindAccessDenied means the target account does not permit this
	// kind of access (transport-only account, restricted OAuth session).
	KindAccessDenied
)

var kindNames = map[Kind]string{
	KindUnexpected:          "unexpected",
	KindNotFound:            "not_found",
	KindConnectionTransient: "connection_transient",
	KindUnsupported:         "unsupported",
	KindInvalidInput:        "invalid_input",
	KindQuotaExceeded:       "quota_exceeded",
	KindListenerDenied:      "listener_denied",
	KindAccessDenied:        "access_denied",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unexpected"
}

// Error is the typed error carried across the pipeline boundary.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed error without a cause.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed error preserving the original cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsNotFound reports whether the error is a not-found race.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsTransient reports whether the error is a retry-eligible connection loss.
func IsTransient(err error) bool { return IsKind(err, KindConnectionTransient) }

// IsUnsupported reports whether the error is a missing-capability signal.
func IsUnsupported(err error) bool { return IsKind(err, KindUnsupported) }
