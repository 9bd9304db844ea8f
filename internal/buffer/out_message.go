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
	"fmt"
	"unsafe"

	"github.com/fusekit/fuse/internal/fusekernel"
)

// OutMessageHeaderSize is the size of the leading header in every
// properly-constructed OutMessage.
const OutMessageHeaderSize = int(unsafe.Sizeof(fusekernel.OutHeader{}))

// OutMessage provides a mechanism for constructing a single contiguous fuse
// frame from multiple segments, where the first segment is always a
// fusekernel.OutHeader. One OutMessage is allocated per reply, sized by the
// reply's fixed payload; bulk data (read payloads) ride along in Sglist and
// are written with writev rather than copied.
//
// Must be created with NewOutMessage.
type OutMessage struct {
	// Bulk data segments to be written after the in-line storage. May be nil.
	Sglist [][]byte

	storage []byte
}

// NewOutMessage creates a message whose initial contents are a zeroed
// OutHeader, with room enough to grow by extra in-line bytes. The sum of
// the sizes passed to Grow, Append, and AppendString must not exceed extra;
// this keeps the header pointer stable.
func NewOutMessage(extra int) *OutMessage {
	return &OutMessage{
		storage: make([]byte, OutMessageHeaderSize, OutMessageHeaderSize+extra),
	}
}

// OutHeader returns a pointer to the header at the start of the message.
func (m *OutMessage) OutHeader() *fusekernel.OutHeader {
	return (*fusekernel.OutHeader)(unsafe.Pointer(&m.storage[0]))
}

// Grow grows the in-line storage by n bytes, returning a pointer to the
// start of the new segment, which is guaranteed to be zeroed. It panics if
// the capacity fixed at creation time is exceeded.
func (m *OutMessage) Grow(n int) unsafe.Pointer {
	if n == 0 {
		return nil
	}

	if len(m.storage)+n > cap(m.storage) {
		panic(fmt.Sprintf(
			"OutMessage.Grow(%d): capacity %d exceeded", n, cap(m.storage)))
	}

	off := len(m.storage)
	m.storage = m.storage[:off+n]
	p := unsafe.Pointer(&m.storage[off])
	memclr(p, uintptr(n))
	return p
}

// Append is equivalent to growing by len(src) then copying src over the new
// segment.
func (m *OutMessage) Append(src []byte) {
	p := m.Grow(len(src))
	if len(src) != 0 {
		memmove(p, unsafe.Pointer(&src[0]), uintptr(len(src)))
	}
}

// AppendString is like Append, but accepts string input.
func (m *OutMessage) AppendString(src string) {
	p := m.Grow(len(src))
	if len(src) != 0 {
		memmove(p, unsafe.Pointer(unsafe.StringData(src)), uintptr(len(src)))
	}
}

// ShrinkTo shrinks the in-line storage to n bytes. It panics if n is
// greater than Len() or less than OutMessageHeaderSize, or if bulk segments
// have already been attached.
func (m *OutMessage) ShrinkTo(n int) {
	if n < OutMessageHeaderSize || n > len(m.storage) || m.Sglist != nil {
		panic(fmt.Sprintf(
			"ShrinkTo(%d) out of range for message of length %d", n, m.Len()))
	}

	m.storage = m.storage[:n]
}

// Len returns the current size of the frame, including the leading header
// and any bulk data segments.
func (m *OutMessage) Len() int {
	n := len(m.storage)
	for _, s := range m.Sglist {
		n += len(s)
	}

	return n
}

// OutHeaderBytes returns a reference to the in-line portion of the frame,
// including the leading header.
func (m *OutMessage) OutHeaderBytes() []byte {
	return m.storage
}

// Finish stamps the header's Len field with the total frame length and
// returns the write vector for the frame: the in-line storage followed by
// any bulk segments.
func (m *OutMessage) Finish() [][]byte {
	m.OutHeader().Len = uint32(m.Len())

	vec := make([][]byte, 0, 1+len(m.Sglist))
	vec = append(vec, m.storage)
	vec = append(vec, m.Sglist...)
	return vec
}
