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

// Package buffer provides the framing buffers used on the /dev/fuse
// boundary: InMessage holds exactly one kernel request, OutMessage
// accumulates exactly one reply or notification frame.
package buffer

import (
	"reflect"
	"unsafe"
)

func toByteSlice(p unsafe.Pointer, n int) []byte {
	sh := reflect.SliceHeader{
		Data: uintptr(p),
		Len:  n,
		Cap:  n,
	}

	return *(*[]byte)(unsafe.Pointer(&sh))
}

// memclr zeroes the n bytes starting at p.
func memclr(p unsafe.Pointer, n uintptr) {
	b := toByteSlice(p, int(n))
	for i := range b {
		b[i] = 0
	}
}

// memmove copies n bytes from src to dst. The ranges must not overlap.
func memmove(dst unsafe.Pointer, src unsafe.Pointer, n uintptr) {
	copy(toByteSlice(dst, int(n)), toByteSlice(src, int(n)))
}
