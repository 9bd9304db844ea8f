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
	"io"
	"unsafe"

	"github.com/fusekit/fuse/internal/fusekernel"
)

// InMessageHeaderSize is the size of the fusekernel.InHeader struct that
// leads every request.
const InMessageHeaderSize = int(unsafe.Sizeof(fusekernel.InHeader{}))

// An InMessage holds a single request read from the kernel, and provides
// cursor-style access to its contents. The storage is sized for the largest
// request the kernel can send given the MaxWrite we negotiate, and is
// reused across requests.
type InMessage struct {
	remaining []byte
	storage   [fusekernel.RequestBufferSize]byte
}

// NewInMessage allocates an InMessage on the heap, where its large storage
// array belongs.
func NewInMessage() *InMessage {
	return new(InMessage)
}

// Init fills the message with the data returned by a single call to r.Read,
// which must return exactly one request. The first call to Consume will
// consume the bytes directly after the header.
func (m *InMessage) Init(r io.Reader) error {
	n, err := r.Read(m.storage[:])
	if err != nil {
		return err
	}

	if n < InMessageHeaderSize {
		return fmt.Errorf("incomplete request: %d bytes", n)
	}

	h := m.Header()
	if int(h.Len) != n {
		return fmt.Errorf("header says %d bytes, read %d", h.Len, n)
	}

	m.remaining = m.storage[InMessageHeaderSize:n]
	return nil
}

// Header returns a reference to the header read in the most recent call to
// Init.
func (m *InMessage) Header() *fusekernel.InHeader {
	return (*fusekernel.InHeader)(unsafe.Pointer(&m.storage[0]))
}

// Len returns the number of bytes left to consume.
func (m *InMessage) Len() uintptr {
	return uintptr(len(m.remaining))
}

// Consume consumes the next n bytes from the message, returning a nil
// pointer if there are fewer than n bytes available.
func (m *InMessage) Consume(n uintptr) unsafe.Pointer {
	if m.Len() == 0 || n > m.Len() {
		return nil
	}

	p := unsafe.Pointer(&m.remaining[0])
	m.remaining = m.remaining[n:]
	return p
}

// ConsumeBytes is equivalent to Consume, except it returns a slice of bytes
// aliasing the message storage. The result is nil if Consume would fail.
func (m *InMessage) ConsumeBytes(n uintptr) []byte {
	if n > m.Len() {
		return nil
	}

	b := m.remaining[:n]
	m.remaining = m.remaining[n:]
	return b
}
