/*
Copyright © 2025 SUSE LLC
SPDX-License-Identifier: Apache-2.0

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

package transaction

import (
	"errors"
	"fmt"
)

// Process exit codes. Each failure class is distinguishable by the operator
// and by wrapping tooling.
const (
	ExitOK               = 0
	ExitUsage            = 1
	ExitNotPrivileged    = 2
	ExitMissingDep       = 3
	ExitPackageToolBusy  = 4
	ExitNoRootConfig     = 5
	ExitSnapshotFailed   = 6
	ExitSubvolumeMissing = 7
	ExitDeviceUnresolved = 8
	ExitChangeRejected   = 9
)

// Error is an engine failure carrying the process exit code of its class
type Error struct {
	code int
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) ExitCode() int {
	return e.code
}

// Errorf creates an Error of the given exit code class
func Errorf(code int, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given exit code class preserving the
// underlying cause for errors.Is/As chains
func WrapError(code int, err error, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...), err: err}
}

// ExitCode maps any error to a process exit code. Engine errors carry their
// own code, anything else is reported as a usage level failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return ExitUsage
}
