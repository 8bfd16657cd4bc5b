// Copyright 2024 FaultFS Authors
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

package vfs

import (
	"errors"
	"syscall"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT  = syscall.ENOENT  // No such file or directory
	ENOTDIR = syscall.ENOTDIR // Not a directory
	EISDIR  = syscall.EISDIR  // Is a directory
	EBADF   = syscall.EBADF   // Bad file descriptor
	EINVAL  = syscall.EINVAL  // Invalid argument
	ENOTSUP = syscall.ENOTSUP // Operation not supported
	EIO     = syscall.EIO     // I/O error
	EACCES  = syscall.EACCES  // Permission denied
	EPERM   = syscall.EPERM   // Operation not permitted
	EROFS   = syscall.EROFS   // Read-only file system
)

// ErrInjected is returned by Read when the fault injector decides to fail
// the call. It carries the same wire code as a genuine EIO.
var ErrInjected error = &InjectedError{}

// InjectedError is a simulated read failure.
type InjectedError struct{}

func (e *InjectedError) Error() string {
	return "injected I/O error"
}

// Errno returns the errno reported to the host for an injected fault.
func (e *InjectedError) Errno() syscall.Errno {
	return EIO
}

// Is makes errors.Is(err, syscall.EIO) hold for injected faults.
func (e *InjectedError) Is(target error) bool {
	return target == EIO
}

// IsInjected reports whether err is a simulated fault rather than an OS error.
func IsInjected(err error) bool {
	var inj *InjectedError
	return errors.As(err, &inj)
}

// ToErrno maps err to an errno. Errors that carry no errno become EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var inj *InjectedError
	if errors.As(err, &inj) {
		return inj.Errno()
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return EIO
}

// Code returns the negative OS-style wire code for err, or 0 for nil.
func Code(err error) int {
	return -int(ToErrno(err))
}
