// Copyright 2025 The fusekit Authors.
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

package fuse

import (
	"errors"
	"syscall"
)

// Errnos commonly returned by file systems. Any syscall.Errno value works;
// these are simply re-exported for convenience.
const (
	EEXIST    = syscall.EEXIST
	EINVAL    = syscall.EINVAL
	EIO       = syscall.EIO
	ENOENT    = syscall.ENOENT
	ENOSYS    = syscall.ENOSYS
	ENOTDIR   = syscall.ENOTDIR
	EISDIR    = syscall.EISDIR
	ENOTEMPTY = syscall.ENOTEMPTY
	ERANGE    = syscall.ERANGE
	ENODATA   = syscall.ENODATA
	ENOATTR   = syscall.ENODATA
	EAGAIN    = syscall.EAGAIN
	EACCES    = syscall.EACCES
)

// errno distills an error returned by a file system into the value to be
// negated into the reply header. Values that aren't errnos become EIO.
func errno(err error) int32 {
	if err == nil {
		return 0
	}

	var e syscall.Errno
	if errors.As(err, &e) {
		return int32(e)
	}

	return int32(syscall.EIO)
}
