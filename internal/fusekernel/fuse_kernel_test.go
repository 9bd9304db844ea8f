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

package fusekernel

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// The kernel's structs have fixed sizes; the type-punning codec depends on
// ours matching them exactly.
func TestStructSizes(t *testing.T) {
	cases := []struct {
		name string
		size uintptr
		want uintptr
	}{
		{"InHeader", unsafe.Sizeof(InHeader{}), 40},
		{"OutHeader", unsafe.Sizeof(OutHeader{}), 16},
		{"Attr", unsafe.Sizeof(Attr{}), 88},
		{"EntryOut", unsafe.Sizeof(EntryOut{}), 128},
		{"AttrOut", unsafe.Sizeof(AttrOut{}), 104},
		{"GetattrIn", unsafe.Sizeof(GetattrIn{}), 16},
		{"SetattrIn", unsafe.Sizeof(SetattrIn{}), 88},
		{"MknodIn", unsafe.Sizeof(MknodIn{}), 16},
		{"MkdirIn", unsafe.Sizeof(MkdirIn{}), 8},
		{"RenameIn", unsafe.Sizeof(RenameIn{}), 8},
		{"CreateIn", unsafe.Sizeof(CreateIn{}), 16},
		{"Rename2In", unsafe.Sizeof(Rename2In{}), 16},
		{"LinkIn", unsafe.Sizeof(LinkIn{}), 8},
		{"OpenIn", unsafe.Sizeof(OpenIn{}), 8},
		{"OpenOut", unsafe.Sizeof(OpenOut{}), 16},
		{"ReleaseIn", unsafe.Sizeof(ReleaseIn{}), 24},
		{"FlushIn", unsafe.Sizeof(FlushIn{}), 24},
		{"ReadIn", unsafe.Sizeof(ReadIn{}), 40},
		{"WriteIn", unsafe.Sizeof(WriteIn{}), 40},
		{"WriteOut", unsafe.Sizeof(WriteOut{}), 8},
		{"Kstatfs", unsafe.Sizeof(Kstatfs{}), 80},
		{"StatfsOut", unsafe.Sizeof(StatfsOut{}), 80},
		{"FsyncIn", unsafe.Sizeof(FsyncIn{}), 16},
		{"SetxattrIn", unsafe.Sizeof(SetxattrIn{}), 8},
		{"GetxattrIn", unsafe.Sizeof(GetxattrIn{}), 8},
		{"GetxattrOut", unsafe.Sizeof(GetxattrOut{}), 8},
		{"FileLock", unsafe.Sizeof(FileLock{}), 24},
		{"LkIn", unsafe.Sizeof(LkIn{}), 48},
		{"LkOut", unsafe.Sizeof(LkOut{}), 24},
		{"AccessIn", unsafe.Sizeof(AccessIn{}), 8},
		{"InitIn", unsafe.Sizeof(InitIn{}), 16},
		{"InitOut", unsafe.Sizeof(InitOut{}), 64},
		{"InterruptIn", unsafe.Sizeof(InterruptIn{}), 8},
		{"BmapIn", unsafe.Sizeof(BmapIn{}), 16},
		{"BmapOut", unsafe.Sizeof(BmapOut{}), 8},
		{"PollIn", unsafe.Sizeof(PollIn{}), 24},
		{"PollOut", unsafe.Sizeof(PollOut{}), 8},
		{"ForgetIn", unsafe.Sizeof(ForgetIn{}), 8},
		{"ForgetOne", unsafe.Sizeof(ForgetOne{}), 16},
		{"BatchForgetIn", unsafe.Sizeof(BatchForgetIn{}), 8},
		{"FallocateIn", unsafe.Sizeof(FallocateIn{}), 32},
		{"LseekIn", unsafe.Sizeof(LseekIn{}), 24},
		{"LseekOut", unsafe.Sizeof(LseekOut{}), 8},
		{"CopyFileRangeIn", unsafe.Sizeof(CopyFileRangeIn{}), 56},
		{"Dirent", unsafe.Sizeof(Dirent{}), 24},
		{"DirentPlus", unsafe.Sizeof(DirentPlus{}), 152},
		{"NotifyInvalInodeOut", unsafe.Sizeof(NotifyInvalInodeOut{}), 24},
		{"NotifyInvalEntryOut", unsafe.Sizeof(NotifyInvalEntryOut{}), 16},
		{"NotifyDeleteOut", unsafe.Sizeof(NotifyDeleteOut{}), 24},
		{"NotifyStoreOut", unsafe.Sizeof(NotifyStoreOut{}), 24},
		{"NotifyRetrieveOut", unsafe.Sizeof(NotifyRetrieveOut{}), 32},
		{"NotifyRetrieveIn", unsafe.Sizeof(NotifyRetrieveIn{}), 40},
		{"NotifyPollWakeupOut", unsafe.Sizeof(NotifyPollWakeupOut{}), 8},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.size, "sizeof(%s)", tc.name)
	}
}

func TestHeaderFieldOffsets(t *testing.T) {
	var in InHeader
	assert.Equal(t, uintptr(0), unsafe.Offsetof(in.Len))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(in.Opcode))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(in.Unique))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(in.Nodeid))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(in.Uid))
	assert.Equal(t, uintptr(28), unsafe.Offsetof(in.Gid))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(in.Pid))

	var out OutHeader
	assert.Equal(t, uintptr(0), unsafe.Offsetof(out.Len))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(out.Error))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(out.Unique))
}

func TestOpcodeKnown(t *testing.T) {
	assert.True(t, OpLookup.Known())
	assert.True(t, OpCopyFileRange.Known())
	assert.True(t, OpCuseInit.Known())

	assert.False(t, Opcode(999).Known())
	assert.False(t, Opcode(7).Known())
	assert.False(t, Opcode(19).Known())
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "OpLookup", OpLookup.String())
	assert.Equal(t, "Opcode(999)", Opcode(999).String())
}

func TestVersionComparison(t *testing.T) {
	a := Version{Major: 7, Minor: 19}
	b := Version{Major: 7, Minor: 31}

	assert.True(t, a.LT(b))
	assert.False(t, b.LT(a))
	assert.True(t, b.GE(a))
	assert.True(t, b.GE(b))
	assert.True(t, a.LT(Version{Major: 8, Minor: 0}))
}
