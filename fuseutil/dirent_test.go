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

package fuseutil

import (
	"encoding/binary"
	"testing"
	"time"
	"unsafe"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/internal/fusekernel"
)

func direntSize(nameLen int) int {
	const recordSize = int(unsafe.Sizeof(fusekernel.Dirent{}))
	total := recordSize + nameLen
	if total%8 != 0 {
		total += 8 - total%8
	}

	return total
}

func TestWriteDirentLayout(t *testing.T) {
	buf := make([]byte, 256)
	d := Dirent{
		Offset: 3,
		Inode:  17,
		Name:   "taco",
		Type:   DT_File,
	}

	n := WriteDirent(buf, d)
	assert.Equal(t, direntSize(len("taco")), n)

	// Fixed fields.
	assert.Equal(t, uint64(17), binary.LittleEndian.Uint64(buf[0:]))
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(buf[8:]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf[16:]))
	assert.Equal(t, uint32(DT_File), binary.LittleEndian.Uint32(buf[20:]))

	// Name, then zero padding to the 8-byte boundary.
	assert.Equal(t, []byte("taco"), buf[24:28])
	if diff := pretty.Compare(make([]byte, 4), buf[28:32]); diff != "" {
		t.Errorf("padding mismatch: %s", diff)
	}
}

func TestWriteDirentNoPaddingNeeded(t *testing.T) {
	buf := make([]byte, 256)
	d := Dirent{Offset: 1, Inode: 2, Name: "12345678", Type: DT_Directory}

	n := WriteDirent(buf, d)
	assert.Equal(t, 24+8, n)
}

func TestWriteDirentTooSmallBudget(t *testing.T) {
	d := Dirent{Offset: 1, Inode: 2, Name: "hello", Type: DT_File}

	// One byte short of the padded size.
	buf := make([]byte, direntSize(len("hello"))-1)
	assert.Equal(t, 0, WriteDirent(buf, d))

	// An exact fit works.
	buf = make([]byte, direntSize(len("hello")))
	assert.Equal(t, len(buf), WriteDirent(buf, d))
}

func TestWriteDirentSequence(t *testing.T) {
	buf := make([]byte, 256)

	var n int
	for i, name := range []string{"a", "bb", "ccc"} {
		d := Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(i + 2),
			Name:   name,
			Type:   DT_File,
		}

		written := WriteDirent(buf[n:], d)
		assert.NotZero(t, written)
		n += written

		// Every record starts on an 8-byte boundary.
		assert.Zero(t, n%8)
	}
}

func TestWriteDirentPlusLayout(t *testing.T) {
	buf := make([]byte, 512)

	e := &fuseops.ChildInodeEntry{
		Child:      19,
		Generation: 7,
		Attributes: fuseops.InodeAttributes{
			Size:  123,
			Nlink: 1,
			Mode:  0644,
			Mtime: time.Unix(1700000000, 0),
		},
	}
	d := Dirent{Offset: 1, Inode: 19, Name: "x", Type: DT_File}

	n := WriteDirentPlus(buf, e, d)

	const plusSize = int(unsafe.Sizeof(fusekernel.DirentPlus{}))
	wantLen := plusSize + 1
	wantLen += 8 - wantLen%8
	assert.Equal(t, wantLen, n)

	// The entry record leads: node ID first.
	assert.Equal(t, uint64(19), binary.LittleEndian.Uint64(buf[0:]))

	// The dirent record follows the 128-byte entry.
	assert.Equal(t, uint64(19), binary.LittleEndian.Uint64(buf[128:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[136:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[144:]))
	assert.Equal(t, []byte("x"), buf[152:153])
}

func TestWriteDirentPlusTooSmallBudget(t *testing.T) {
	e := &fuseops.ChildInodeEntry{Child: 1}
	d := Dirent{Offset: 1, Inode: 1, Name: "name", Type: DT_File}

	buf := make([]byte, 64)
	assert.Equal(t, 0, WriteDirentPlus(buf, e, d))
}
