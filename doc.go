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

// Package fuse enables writing and mounting user-space file systems.
//
// The primary elements of interest are:
//
//   - The fuseops package, which defines the operations that fuse might send
//     to your userspace daemon.
//
//   - The Server interface, which your daemon must implement.
//
//   - fuseutil.NewFileSystemServer, which offers a convenient way to
//     implement the Server interface: each kernel operation becomes a typed
//     method call on your file system, executed on its own goroutine.
//
//   - The pathfs package, which offers the same thing in terms of paths
//     instead of inode numbers, maintaining the inode namespace for you.
//
//   - Mount, a function that allows for mounting a Server as a file system.
//
// Make sure to see the examples in the sub-packages of samples/, which double
// as tests for this package.
package fuse
