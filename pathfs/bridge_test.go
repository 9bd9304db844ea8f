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

package pathfs_test

import (
	"context"
	"encoding/binary"
	"os"
	"sort"
	"strings"
	"syscall"
	"testing"

	. "github.com/jacobsa/ogletest"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
	"github.com/fusekit/fuse/pathfs"
)

func TestBridge(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Fake path file system
////////////////////////////////////////////////////////////////////////

type fakeNode struct {
	dir bool
}

// fakeFS is a trivial path-indexed tree: a map from absolute path to
// node. It exists to observe what the bridge asks for.
type fakeFS struct {
	pathfs.NotImplementedFileSystem

	nodes map[string]*fakeNode
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		nodes: map[string]*fakeNode{
			"/": {dir: true},
		},
	}
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}

	return parent + "/" + name
}

func (fs *fakeFS) entryFor(n *fakeNode) pathfs.EntryInfo {
	mode := os.FileMode(0644)
	if n.dir {
		mode = 0755 | os.ModeDir
	}

	return pathfs.EntryInfo{
		Attributes: fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  mode,
		},
	}
}

func (fs *fakeFS) Lookup(
	ctx context.Context,
	parent string,
	name string) (pathfs.EntryInfo, error) {
	n, ok := fs.nodes[childPath(parent, name)]
	if !ok {
		return pathfs.EntryInfo{}, syscall.ENOENT
	}

	return fs.entryFor(n), nil
}

func (fs *fakeFS) GetAttr(
	ctx context.Context,
	path string,
	handle *fuseops.HandleID) (pathfs.AttrInfo, error) {
	n, ok := fs.nodes[path]
	if !ok {
		return pathfs.AttrInfo{}, syscall.ENOENT
	}

	return pathfs.AttrInfo{Attributes: fs.entryFor(n).Attributes}, nil
}

func (fs *fakeFS) MkDir(
	ctx context.Context,
	parent string,
	name string,
	mode os.FileMode) (pathfs.EntryInfo, error) {
	p := childPath(parent, name)
	if _, ok := fs.nodes[p]; ok {
		return pathfs.EntryInfo{}, syscall.EEXIST
	}

	n := &fakeNode{dir: true}
	fs.nodes[p] = n
	return fs.entryFor(n), nil
}

func (fs *fakeFS) CreateFile(
	ctx context.Context,
	parent string,
	name string,
	mode os.FileMode,
	flags uint32) (pathfs.EntryInfo, fuseops.HandleID, error) {
	p := childPath(parent, name)
	if _, ok := fs.nodes[p]; ok {
		return pathfs.EntryInfo{}, 0, syscall.EEXIST
	}

	n := &fakeNode{}
	fs.nodes[p] = n
	return fs.entryFor(n), 1, nil
}

func (fs *fakeFS) CreateLink(
	ctx context.Context,
	parent string,
	name string,
	target string) (pathfs.EntryInfo, error) {
	p := childPath(parent, name)
	if _, ok := fs.nodes[p]; ok {
		return pathfs.EntryInfo{}, syscall.EEXIST
	}

	n, ok := fs.nodes[target]
	if !ok {
		return pathfs.EntryInfo{}, syscall.ENOENT
	}

	fs.nodes[p] = n
	return fs.entryFor(n), nil
}

func (fs *fakeFS) Rename(
	ctx context.Context,
	oldParent string,
	oldName string,
	newParent string,
	newName string,
	flags uint32) error {
	oldPath := childPath(oldParent, oldName)
	newPath := childPath(newParent, newName)

	n, ok := fs.nodes[oldPath]
	if !ok {
		return syscall.ENOENT
	}

	// Move the node and everything under it.
	delete(fs.nodes, oldPath)
	fs.nodes[newPath] = n

	prefix := oldPath + "/"
	for p, child := range fs.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(fs.nodes, p)
			fs.nodes[newPath+"/"+strings.TrimPrefix(p, prefix)] = child
		}
	}

	return nil
}

func (fs *fakeFS) childrenOf(path string) []string {
	var names []string
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}

	for p := range fs.nodes {
		if p == "/" || !strings.HasPrefix(p, prefix) {
			continue
		}

		rest := strings.TrimPrefix(p, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}

	sort.Strings(names)
	return names
}

func (fs *fakeFS) RmDir(
	ctx context.Context,
	parent string,
	name string) error {
	p := childPath(parent, name)

	n, ok := fs.nodes[p]
	if !ok {
		return syscall.ENOENT
	}

	if !n.dir {
		return syscall.ENOTDIR
	}

	if len(fs.childrenOf(p)) != 0 {
		return syscall.ENOTEMPTY
	}

	delete(fs.nodes, p)
	return nil
}

func (fs *fakeFS) Unlink(
	ctx context.Context,
	parent string,
	name string) error {
	p := childPath(parent, name)

	n, ok := fs.nodes[p]
	if !ok {
		return syscall.ENOENT
	}

	if n.dir {
		return syscall.EISDIR
	}

	delete(fs.nodes, p)
	return nil
}

func (fs *fakeFS) ReadDir(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset fuseops.DirOffset,
	sink pathfs.DirentSink) error {
	if _, ok := fs.nodes[path]; !ok {
		return syscall.ENOENT
	}

	entries := []string{".", ".."}
	entries = append(entries, fs.childrenOf(path)...)

	for i := int(offset); i < len(entries); i++ {
		name := entries[i]

		typ := fuseutil.DT_File
		if name == "." || name == ".." {
			typ = fuseutil.DT_Directory
		} else if fs.nodes[childPath(path, name)].dir {
			typ = fuseutil.DT_Directory
		}

		ok := sink.Add(pathfs.DirEntry{
			Offset: fuseops.DirOffset(i + 1),
			Name:   name,
			Type:   typ,
		})
		if !ok {
			break
		}
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Test suite
////////////////////////////////////////////////////////////////////////

type BridgeTest struct {
	ctx    context.Context
	fake   *fakeFS
	bridge fuseutil.FileSystem
}

var _ SetUpInterface = &BridgeTest{}

func init() { RegisterTestSuite(&BridgeTest{}) }

func (t *BridgeTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()
	t.fake = newFakeFS()
	t.bridge = pathfs.NewBridge(t.fake)
}

func (t *BridgeTest) lookup(parent fuseops.InodeID, name string) (fuseops.InodeID, error) {
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	err := t.bridge.LookUpInode(t.ctx, op)
	return op.Entry.Child, err
}

func (t *BridgeTest) LookupAssignsInodesAboveRoot() {
	t.fake.nodes["/a"] = &fakeNode{}

	ino, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)
	ExpectEq(fuseops.InodeID(2), ino)
}

func (t *BridgeTest) RepeatedLookupIsIdempotent() {
	t.fake.nodes["/a"] = &fakeNode{}

	first, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	second, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	ExpectEq(first, second)
}

func (t *BridgeTest) DistinctNamesGetDistinctInodes() {
	t.fake.nodes["/a"] = &fakeNode{}
	t.fake.nodes["/b"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)

	ExpectNe(a, b)
}

func (t *BridgeTest) LookupOfMissingNameReturnsENOENT() {
	_, err := t.lookup(fuseops.RootInodeID, "missing")
	ExpectEq(syscall.ENOENT, err)
}

func (t *BridgeTest) RenameMovesTheMapping() {
	t.fake.nodes["/a"] = &fakeNode{}

	ino, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	err = t.bridge.Rename(t.ctx, &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "a",
		NewParent: fuseops.RootInodeID,
		NewName:   "b",
	})
	AssertEq(nil, err)

	// The old name is gone; the new one keeps the inode.
	_, err = t.lookup(fuseops.RootInodeID, "a")
	ExpectEq(syscall.ENOENT, err)

	after, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)
	ExpectEq(ino, after)
}

func (t *BridgeTest) RenameRoundTripRestoresAssignment() {
	t.fake.nodes["/a"] = &fakeNode{}

	before, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	rename := func(from, to string) {
		err := t.bridge.Rename(t.ctx, &fuseops.RenameOp{
			OldParent: fuseops.RootInodeID,
			OldName:   from,
			NewParent: fuseops.RootInodeID,
			NewName:   to,
		})
		AssertEq(nil, err)
	}

	rename("a", "b")
	rename("b", "a")

	after, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)
	ExpectEq(before, after)
}

func (t *BridgeTest) ForgetReturnsNumberToTheAllocator() {
	t.fake.nodes["/a"] = &fakeNode{}
	t.fake.nodes["/b"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	err = t.bridge.ForgetInode(t.ctx, &fuseops.ForgetInodeOp{Inode: a, N: 1})
	AssertEq(nil, err)

	// The freed number is recycled for the next fresh name.
	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)
	ExpectEq(a, b)
}

func (t *BridgeTest) BatchForgetDropsAllEntries() {
	t.fake.nodes["/a"] = &fakeNode{}
	t.fake.nodes["/b"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)
	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)

	err = t.bridge.BatchForget(t.ctx, &fuseops.BatchForgetOp{
		Entries: []fuseops.BatchForgetEntry{
			{Inode: a, N: 1},
			{Inode: b, N: 1},
		},
	})
	AssertEq(nil, err)

	// Both numbers come back, most recently freed first.
	t.fake.nodes["/c"] = &fakeNode{}
	c, err := t.lookup(fuseops.RootInodeID, "c")
	AssertEq(nil, err)
	ExpectEq(b, c)
}

func (t *BridgeTest) StaleMappingDroppedOnLookupENOENT() {
	t.fake.nodes["/a"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	// The entity disappears behind our back.
	delete(t.fake.nodes, "/a")

	_, err = t.lookup(fuseops.RootInodeID, "a")
	AssertEq(syscall.ENOENT, err)

	// The number was recycled, so a new name gets it.
	t.fake.nodes["/z"] = &fakeNode{}
	z, err := t.lookup(fuseops.RootInodeID, "z")
	AssertEq(nil, err)
	ExpectEq(a, z)
}

func (t *BridgeTest) MkDirRegistersTheMapping() {
	op := &fuseops.MkDirOp{
		Parent: fuseops.RootInodeID,
		Name:   "d",
		Mode:   0755 | os.ModeDir,
	}
	err := t.bridge.MkDir(t.ctx, op)
	AssertEq(nil, err)

	ino, err := t.lookup(fuseops.RootInodeID, "d")
	AssertEq(nil, err)
	ExpectEq(op.Entry.Child, ino)
}

func (t *BridgeTest) CreateOfExistingNameRepairsTheIndex() {
	t.fake.nodes["/a"] = &fakeNode{}

	err := t.bridge.CreateFile(t.ctx, &fuseops.CreateFileOp{
		Parent: fuseops.RootInodeID,
		Name:   "a",
	})
	AssertEq(syscall.EEXIST, err)

	// The failed create still taught the bridge about the name.
	ino, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)
	ExpectEq(fuseops.InodeID(2), ino)

	// And it consumed inode 2: the next fresh name gets 3.
	t.fake.nodes["/b"] = &fakeNode{}
	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)
	ExpectEq(fuseops.InodeID(3), b)
}

func (t *BridgeTest) UnlinkOfDirectoryKeepsTheMapping() {
	t.fake.nodes["/d"] = &fakeNode{dir: true}

	ino, err := t.lookup(fuseops.RootInodeID, "d")
	AssertEq(nil, err)

	err = t.bridge.Unlink(t.ctx, &fuseops.UnlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "d",
	})
	AssertEq(syscall.EISDIR, err)

	// The inode must still resolve.
	attrOp := &fuseops.GetInodeAttributesOp{Inode: ino}
	err = t.bridge.GetInodeAttributes(t.ctx, attrOp)
	AssertEq(nil, err)
	ExpectTrue(attrOp.Attributes.Mode.IsDir())
}

func (t *BridgeTest) RmDirOfFileKeepsTheMapping() {
	t.fake.nodes["/f"] = &fakeNode{}

	ino, err := t.lookup(fuseops.RootInodeID, "f")
	AssertEq(nil, err)

	err = t.bridge.RmDir(t.ctx, &fuseops.RmDirOp{
		Parent: fuseops.RootInodeID,
		Name:   "f",
	})
	AssertEq(syscall.ENOTDIR, err)

	attrOp := &fuseops.GetInodeAttributesOp{Inode: ino}
	err = t.bridge.GetInodeAttributes(t.ctx, attrOp)
	AssertEq(nil, err)
}

func (t *BridgeTest) UnlinkReleasesTheNumber() {
	t.fake.nodes["/a"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	err = t.bridge.Unlink(t.ctx, &fuseops.UnlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "a",
	})
	AssertEq(nil, err)

	t.fake.nodes["/b"] = &fakeNode{}
	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)
	ExpectEq(a, b)
}

func (t *BridgeTest) GetAttrOfUnknownInodeReturnsENOENT() {
	err := t.bridge.GetInodeAttributes(t.ctx, &fuseops.GetInodeAttributesOp{
		Inode: 99,
	})
	ExpectEq(syscall.ENOENT, err)
}

// parseDirents decodes (inode, name) pairs from a packed readdir buffer.
func parseDirents(buf []byte) map[string]fuseops.InodeID {
	out := make(map[string]fuseops.InodeID)
	for len(buf) > 0 {
		ino := binary.LittleEndian.Uint64(buf[0:])
		namelen := int(binary.LittleEndian.Uint32(buf[16:]))
		out[string(buf[24:24+namelen])] = fuseops.InodeID(ino)

		total := 24 + namelen
		if total%8 != 0 {
			total += 8 - total%8
		}
		buf = buf[total:]
	}

	return out
}

func (t *BridgeTest) ReadDirSubstitutesDotInodes() {
	t.fake.nodes["/d"] = &fakeNode{dir: true}
	t.fake.nodes["/d/x"] = &fakeNode{}

	dir, err := t.lookup(fuseops.RootInodeID, "d")
	AssertEq(nil, err)

	op := &fuseops.ReadDirOp{
		Inode: dir,
		Dst:   make([]byte, 4096),
	}
	err = t.bridge.ReadDir(t.ctx, op)
	AssertEq(nil, err)

	entries := parseDirents(op.Dst[:op.BytesRead])
	AssertEq(3, len(entries))

	ExpectEq(dir, entries["."])
	ExpectEq(fuseops.InodeID(fuseops.RootInodeID), entries[".."])
	ExpectNe(fuseops.InodeID(0), entries["x"])
	ExpectNe(dir, entries["x"])
}

func (t *BridgeTest) ReadDirEntryInodeMatchesLookup() {
	t.fake.nodes["/d"] = &fakeNode{dir: true}
	t.fake.nodes["/d/x"] = &fakeNode{}

	dir, err := t.lookup(fuseops.RootInodeID, "d")
	AssertEq(nil, err)

	op := &fuseops.ReadDirOp{Inode: dir, Dst: make([]byte, 4096)}
	err = t.bridge.ReadDir(t.ctx, op)
	AssertEq(nil, err)

	entries := parseDirents(op.Dst[:op.BytesRead])

	viaLookup, err := t.lookup(dir, "x")
	AssertEq(nil, err)
	ExpectEq(viaLookup, entries["x"])
}

func (t *BridgeTest) ReadDirBudgetSmallerThanFirstEntry() {
	op := &fuseops.ReadDirOp{
		Inode: fuseops.RootInodeID,
		Dst:   make([]byte, 8),
	}
	err := t.bridge.ReadDir(t.ctx, op)
	AssertEq(nil, err)
	ExpectEq(0, op.BytesRead)
}

func (t *BridgeTest) HardLinkAliasesShareAnInode() {
	t.fake.nodes["/a"] = &fakeNode{}

	a, err := t.lookup(fuseops.RootInodeID, "a")
	AssertEq(nil, err)

	op := &fuseops.CreateLinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "b",
		Target: a,
	}
	err = t.bridge.CreateLink(t.ctx, op)
	AssertEq(nil, err)
	ExpectEq(a, op.Entry.Child)

	// Both names resolve to the same inode.
	b, err := t.lookup(fuseops.RootInodeID, "b")
	AssertEq(nil, err)
	ExpectEq(a, b)

	// Dropping one alias keeps the inode alive under the other.
	err = t.bridge.Unlink(t.ctx, &fuseops.UnlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "b",
	})
	AssertEq(nil, err)

	attrOp := &fuseops.GetInodeAttributesOp{Inode: a}
	AssertEq(nil, t.bridge.GetInodeAttributes(t.ctx, attrOp))
}
