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

package fuse

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fusekit/fuse/fuseops"
)

// describeOpType returns "ReadFile" for a *fuseops.ReadFileOp, and so on.
func describeOpType(op interface{}) string {
	name := reflect.TypeOf(op).String()

	const prefix = "*fuseops."
	const suffix = "Op"
	if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
		return name[len(prefix) : len(name)-len(suffix)]
	}

	return name
}

// describeRequest renders an op for debug logging, with the fields that
// tend to matter when staring at a trace.
func describeRequest(op interface{}) string {
	t := describeOpType(op)

	switch typed := op.(type) {
	case *fuseops.LookUpInodeOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.GetInodeAttributesOp:
		return fmt.Sprintf("%s(inode=%d)", t, typed.Inode)

	case *fuseops.SetInodeAttributesOp:
		return fmt.Sprintf("%s(inode=%d)", t, typed.Inode)

	case *fuseops.ForgetInodeOp:
		return fmt.Sprintf("%s(inode=%d, n=%d)", t, typed.Inode, typed.N)

	case *fuseops.BatchForgetOp:
		return fmt.Sprintf("%s(%d entries)", t, len(typed.Entries))

	case *fuseops.MkDirOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.MkNodeOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.CreateFileOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.CreateSymlinkOp:
		return fmt.Sprintf(
			"%s(parent=%d, name=%q, target=%q)",
			t, typed.Parent, typed.Name, typed.Target)

	case *fuseops.CreateLinkOp:
		return fmt.Sprintf(
			"%s(parent=%d, name=%q, target=%d)",
			t, typed.Parent, typed.Name, typed.Target)

	case *fuseops.RenameOp:
		return fmt.Sprintf(
			"%s(old=%d/%q, new=%d/%q)",
			t, typed.OldParent, typed.OldName, typed.NewParent, typed.NewName)

	case *fuseops.RmDirOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.UnlinkOp:
		return fmt.Sprintf("%s(parent=%d, name=%q)", t, typed.Parent, typed.Name)

	case *fuseops.ReadDirOp:
		return fmt.Sprintf(
			"%s(inode=%d, offset=%d, size=%d)",
			t, typed.Inode, typed.Offset, len(typed.Dst))

	case *fuseops.ReadDirPlusOp:
		return fmt.Sprintf(
			"%s(inode=%d, offset=%d, size=%d)",
			t, typed.Inode, typed.Offset, len(typed.Dst))

	case *fuseops.ReadFileOp:
		return fmt.Sprintf(
			"%s(inode=%d, handle=%d, offset=%d, size=%d)",
			t, typed.Inode, typed.Handle, typed.Offset, typed.Size)

	case *fuseops.WriteFileOp:
		return fmt.Sprintf(
			"%s(inode=%d, handle=%d, offset=%d, size=%d)",
			t, typed.Inode, typed.Handle, typed.Offset, len(typed.Data))

	case *fuseops.GetXattrOp:
		return fmt.Sprintf("%s(inode=%d, name=%q)", t, typed.Inode, typed.Name)

	case *fuseops.SetXattrOp:
		return fmt.Sprintf("%s(inode=%d, name=%q)", t, typed.Inode, typed.Name)

	case *fuseops.RemoveXattrOp:
		return fmt.Sprintf("%s(inode=%d, name=%q)", t, typed.Inode, typed.Name)

	case *fuseops.PollOp:
		return fmt.Sprintf(
			"%s(inode=%d, kh=%d, events=%x)",
			t, typed.Inode, typed.Kh, typed.Events)

	case *fuseops.InterruptOp:
		return fmt.Sprintf("%s(fuseid=%d)", t, typed.FuseID)
	}

	return t
}

// describeResponse renders the reply side of an op for debug logging.
func describeResponse(op interface{}) string {
	t := describeOpType(op)

	switch typed := op.(type) {
	case *fuseops.LookUpInodeOp:
		return fmt.Sprintf("%s(inode=%d)", t, typed.Entry.Child)

	case *fuseops.MkDirOp:
		return fmt.Sprintf("%s(inode=%d)", t, typed.Entry.Child)

	case *fuseops.CreateFileOp:
		return fmt.Sprintf(
			"%s(inode=%d, handle=%d)", t, typed.Entry.Child, typed.Handle)

	case *fuseops.OpenFileOp:
		return fmt.Sprintf("%s(handle=%d)", t, typed.Handle)

	case *fuseops.OpenDirOp:
		return fmt.Sprintf("%s(handle=%d)", t, typed.Handle)

	case *fuseops.ReadFileOp:
		return fmt.Sprintf("%s(%d bytes)", t, typed.BytesRead)

	case *fuseops.ReadDirOp:
		return fmt.Sprintf("%s(%d bytes)", t, typed.BytesRead)

	case *fuseops.ReadDirPlusOp:
		return fmt.Sprintf("%s(%d bytes)", t, typed.BytesRead)

	case *fuseops.PollOp:
		return fmt.Sprintf("%s(revents=%x)", t, typed.Revents)
	}

	return t
}
