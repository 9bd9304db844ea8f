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

package pathfs

import (
	"fmt"

	"github.com/fusekit/fuse/fuseops"
)

// inodeAllocator mints inode numbers and recycles released ones through a
// free list. Inode 1 belongs to the root and is never handed out.
//
// Not safe for concurrent access; the bridge holds its write lock around
// all calls.
type inodeAllocator struct {
	// The next never-used number.
	next fuseops.InodeID

	// Released numbers, reused LIFO.
	free []fuseops.InodeID
}

func newInodeAllocator() *inodeAllocator {
	return &inodeAllocator{next: fuseops.RootInodeID + 1}
}

func (a *inodeAllocator) Allocate() fuseops.InodeID {
	if n := len(a.free); n != 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}

	id := a.next
	a.next++
	return id
}

func (a *inodeAllocator) Release(id fuseops.InodeID) {
	if id == fuseops.RootInodeID {
		panic("releasing the root inode")
	}

	a.free = append(a.free, id)
}

// checkInvariants verifies the free list holds no duplicates and nothing
// beyond the high-water mark.
func (a *inodeAllocator) checkInvariants() {
	seen := make(map[fuseops.InodeID]struct{}, len(a.free))
	for _, id := range a.free {
		if id == fuseops.RootInodeID || id >= a.next {
			panic(fmt.Sprintf("free list holds impossible inode %d", id))
		}
		if _, ok := seen[id]; ok {
			panic(fmt.Sprintf("free list holds inode %d twice", id))
		}
		seen[id] = struct{}{}
	}
}
