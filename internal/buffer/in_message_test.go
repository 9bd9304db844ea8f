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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fuse/internal/fusekernel"
)

// requestBytes assembles one wire request: a header with the given
// opcode/unique/nodeid, followed by the body.
func requestBytes(opcode uint32, unique uint64, nodeid uint64, body []byte) []byte {
	buf := make([]byte, InMessageHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:], opcode)
	binary.LittleEndian.PutUint64(buf[8:], unique)
	binary.LittleEndian.PutUint64(buf[16:], nodeid)
	binary.LittleEndian.PutUint32(buf[24:], 501)  // uid
	binary.LittleEndian.PutUint32(buf[28:], 20)   // gid
	binary.LittleEndian.PutUint32(buf[32:], 1234) // pid
	copy(buf[InMessageHeaderSize:], body)
	return buf
}

func TestInMessageHeader(t *testing.T) {
	m := NewInMessage()
	req := requestBytes(uint32(fusekernel.OpLookup), 7, 42, []byte("name\x00"))

	require.NoError(t, m.Init(bytes.NewReader(req)))

	h := m.Header()
	assert.Equal(t, uint32(len(req)), h.Len)
	assert.Equal(t, uint32(fusekernel.OpLookup), h.Opcode)
	assert.Equal(t, uint64(7), h.Unique)
	assert.Equal(t, uint64(42), h.Nodeid)
	assert.Equal(t, uint32(501), h.Uid)
	assert.Equal(t, uint32(20), h.Gid)
	assert.Equal(t, uint32(1234), h.Pid)
}

func TestInMessageConsume(t *testing.T) {
	m := NewInMessage()
	body := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	req := requestBytes(uint32(fusekernel.OpWrite), 1, 1, body)

	require.NoError(t, m.Init(bytes.NewReader(req)))
	assert.Equal(t, uintptr(len(body)), m.Len())

	p := m.Consume(8)
	require.NotNil(t, p)
	assert.Equal(t, uintptr(2), m.Len())

	rest := m.ConsumeBytes(m.Len())
	assert.Equal(t, []byte{9, 10}, rest)
	assert.Equal(t, uintptr(0), m.Len())
}

func TestInMessageConsumePastEnd(t *testing.T) {
	m := NewInMessage()
	req := requestBytes(uint32(fusekernel.OpRead), 1, 1, []byte{1, 2, 3})

	require.NoError(t, m.Init(bytes.NewReader(req)))

	assert.Nil(t, m.Consume(4))
	assert.Nil(t, m.ConsumeBytes(4))

	// The failed consumes must not have eaten anything.
	assert.Equal(t, uintptr(3), m.Len())
}

func TestInMessageRejectsShortHeader(t *testing.T) {
	m := NewInMessage()
	err := m.Init(bytes.NewReader(make([]byte, InMessageHeaderSize-1)))
	assert.Error(t, err)
}

func TestInMessageRejectsLengthMismatch(t *testing.T) {
	m := NewInMessage()
	req := requestBytes(uint32(fusekernel.OpRead), 1, 1, []byte{1, 2, 3})

	// Corrupt the length field.
	binary.LittleEndian.PutUint32(req[0:], uint32(len(req)+10))

	err := m.Init(bytes.NewReader(req))
	assert.Error(t, err)
}

func TestInMessageReuse(t *testing.T) {
	m := NewInMessage()

	first := requestBytes(uint32(fusekernel.OpRead), 1, 1, bytes.Repeat([]byte{0xaa}, 32))
	require.NoError(t, m.Init(bytes.NewReader(first)))
	m.ConsumeBytes(m.Len())

	second := requestBytes(uint32(fusekernel.OpLookup), 2, 9, []byte("x\x00"))
	require.NoError(t, m.Init(bytes.NewReader(second)))

	assert.Equal(t, uint64(2), m.Header().Unique)
	assert.Equal(t, []byte("x\x00"), m.ConsumeBytes(2))
}
