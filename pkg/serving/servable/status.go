/*
Copyright 2025 The llm-d Authors.

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

package servable

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds API operations return. Callers
// discriminate with errors.Is; messages carry the detail.
var (
	// ErrInvalidArgument marks a malformed argument or configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFailedPrecondition marks an operation that is not valid in the
	// component's current state.
	ErrFailedPrecondition = errors.New("failed precondition")
)

// Code classifies a health status.
type Code string

const (
	// OK means healthy.
	OK Code = "ok"
	// InvalidArgument means the servable was driven with a malformed input.
	InvalidArgument Code = "invalid_argument"
	// FailedPrecondition means an operation was attempted in a state that
	// does not admit it.
	FailedPrecondition Code = "failed_precondition"
	// Internal means a broken invariant inside the serving system.
	Internal Code = "internal"
)

// ParseCode converts the wire representation of a status code.
func ParseCode(s string) (Code, error) {
	switch code := Code(s); code {
	case OK, InvalidArgument, FailedPrecondition, Internal:
		return code, nil
	default:
		return "", fmt.Errorf("unknown status code %q: %w", s, ErrInvalidArgument)
	}
}

// Status is the health carried inside servable state events. It is a value;
// copying a Status shares nothing.
type Status struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// StatusOK returns the healthy status.
func StatusOK() Status {
	return Status{Code: OK}
}

// NewStatus returns a status with the given code and message.
func NewStatus(code Code, message string) Status {
	return Status{Code: code, Message: message}
}

// OK reports whether the status is healthy.
func (s Status) OK() bool {
	return s.Code == OK
}

// String renders the status for logs.
func (s Status) String() string {
	if s.Message == "" {
		return string(s.Code)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}
