/*
Copyright 2022

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package twse

import (
	"errors"
	"fmt"
)

// ErrKind classifies a per-unit failure. Only transient failures are
// retried; every other kind is a terminal outcome for the unit.
type ErrKind int

const (
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient ErrKind = iota + 1
	// ErrNoData marks a non-trading day (holiday or weekend). Not a
	// failure of the pipeline.
	ErrNoData
	// ErrDecode marks a payload that could not be decoded with any of the
	// known upstream encodings.
	ErrDecode
	// ErrParse marks a response that yielded no usable records.
	ErrParse
)

func (k ErrKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrNoData:
		return "no-data"
	case ErrDecode:
		return "decode"
	case ErrParse:
		return "parse"
	}
	return "unknown"
}

// UnitError is the outcome of a failed fetch/decode/parse stage for one
// unit of work. It never propagates past the unit boundary.
type UnitError struct {
	Kind ErrKind
	Err  error
}

func (e *UnitError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

func unitErr(kind ErrKind, err error) *UnitError {
	return &UnitError{Kind: kind, Err: err}
}

// KindOf returns the failure classification of err, or 0 when err is not a
// UnitError.
func KindOf(err error) ErrKind {
	var ue *UnitError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return 0
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == ErrTransient
}

// IsNoData reports whether err marks a non-trading day.
func IsNoData(err error) bool {
	return KindOf(err) == ErrNoData
}

// ErrFutureDate is returned when a fetch is requested for a date the
// upstream cannot have published yet.
var ErrFutureDate = errors.New("requested date is in the future")
