// Copyright 2025 Edgeo SCADA
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

package knx

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrClosed reports an operation on an adapter or client after it was
	// closed, either explicitly or by asynchronous closure of the underlying
	// connection.
	ErrClosed = errors.New("knx: adapter closed")

	// ErrTimeout reports that no matching response arrived within the
	// transport deadline. Recoverable; the caller may retry.
	ErrTimeout = errors.New("knx: request timeout")

	// ErrPropertyNotFound reports that the device has no property at the
	// queried property index. Terminates a property scan.
	ErrPropertyNotFound = errors.New("knx: no such property")

	// ErrAccessDenied reports a negative property access response (element
	// count zero), typically insufficient access level.
	ErrAccessDenied = errors.New("knx: property access denied")

	// ErrNoDefinition reports that neither the definition table nor the
	// device-reported property data type yields a datapoint type for a PID.
	ErrNoDefinition = errors.New("knx: no property definition")

	// ErrNoTranslator reports that the translator registry has no codec for
	// a datapoint type.
	ErrNoTranslator = errors.New("knx: no translator for datapoint type")

	// ErrInvalidResponse reports a response payload that does not match the
	// request's wire format.
	ErrInvalidResponse = errors.New("knx: invalid response")

	// ErrLinkClosed reports a network link that is not open.
	ErrLinkClosed = errors.New("knx: link closed")
)

// FormatError reports malformed or out-of-range value input to a datapoint
// translator. The offending value is always carried along; nothing is
// partially applied.
type FormatError struct {
	DPT    DPT
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("knx: wrong value format %q for DPT %s: %s", e.Value, e.DPT, e.Reason)
}

// IsTimeout returns true if the error is a response timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed returns true if the error reports use of a closed adapter or client.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsPropertyNotFound returns true if the error reports a nonexistent property.
func IsPropertyNotFound(err error) bool {
	return errors.Is(err, ErrPropertyNotFound)
}

// IsAccessDenied returns true if the error reports denied property access.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsFormat returns true if the error reports malformed translator input.
func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
