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

package buffer

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toPointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

func TestOutMessageInitialContents(t *testing.T) {
	m := NewOutMessage(16)

	// The initial frame is a zeroed header and nothing else.
	assert.Equal(t, OutMessageHeaderSize, m.Len())
	assert.Equal(t, make([]byte, OutMessageHeaderSize), m.OutHeaderBytes())
}

func TestOutMessageGrowIsZeroed(t *testing.T) {
	m := NewOutMessage(8)
	p := m.Grow(8)
	require.NotNil(t, p)

	assert.Equal(t, OutMessageHeaderSize+8, m.Len())
	assert.Equal(t,
		make([]byte, 8),
		m.OutHeaderBytes()[OutMessageHeaderSize:])
}

func TestOutMessageAppend(t *testing.T) {
	m := NewOutMessage(16)
	m.Append([]byte("taco"))
	m.AppendString("burrito")

	assert.Equal(t, OutMessageHeaderSize+11, m.Len())
	assert.Equal(t,
		[]byte("tacoburrito"),
		m.OutHeaderBytes()[OutMessageHeaderSize:])
}

func TestOutMessageShrinkTo(t *testing.T) {
	m := NewOutMessage(16)
	m.Append(bytes.Repeat([]byte{1}, 16))
	m.ShrinkTo(OutMessageHeaderSize + 4)

	assert.Equal(t, OutMessageHeaderSize+4, m.Len())
}

func TestOutMessageFinishStampsLength(t *testing.T) {
	m := NewOutMessage(4)
	m.Append([]byte("abcd"))
	m.OutHeader().Unique = 17
	m.OutHeader().Error = -2

	vec := m.Finish()

	// The header's Len field must equal the actual frame length.
	assert.Equal(t, uint32(m.Len()), m.OutHeader().Len)

	var total int
	for _, s := range vec {
		total += len(s)
	}
	assert.Equal(t, m.Len(), total)
}

func TestOutMessageSglistCountsTowardLen(t *testing.T) {
	m := NewOutMessage(0)
	m.Sglist = append(m.Sglist, []byte("hello "), []byte("world"))

	assert.Equal(t, OutMessageHeaderSize+11, m.Len())

	vec := m.Finish()
	assert.Len(t, vec, 3)
	assert.Equal(t, uint32(OutMessageHeaderSize+11), m.OutHeader().Len)
}

func TestOutMessageGrowPastCapacityPanics(t *testing.T) {
	m := NewOutMessage(4)
	assert.Panics(t, func() { m.Grow(5) })
}

func TestMemclr(t *testing.T) {
	for _, size := range []int{0, 1, 7, 8, 9, 64, 1024} {
		b := bytes.Repeat([]byte{0xff}, size)
		if size == 0 {
			memclr(nil, 0)
			continue
		}

		memclr(toPointer(b), uintptr(size))
		assert.Equal(t, make([]byte, size), b, "size %d", size)
	}
}

func TestMemmove(t *testing.T) {
	src := []byte("hello world")
	dst := make([]byte, len(src))

	memmove(toPointer(dst), toPointer(src), uintptr(len(src)))
	assert.Equal(t, src, dst)
}
