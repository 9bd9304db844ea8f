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
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKernelMountDataDefaults(t *testing.T) {
	cfg := &MountConfig{}

	want := fmt.Sprintf(
		"fd=7,rootmode=40000,user_id=%d,group_id=%d",
		os.Getuid(), os.Getgid())
	assert.Equal(t, want, cfg.kernelMountData(7))
}

func TestKernelMountDataOptions(t *testing.T) {
	uid := uint32(1000)
	gid := uint32(1001)

	cfg := &MountConfig{
		UID:                &uid,
		GID:                &gid,
		RootMode:           0o40555,
		DefaultPermissions: true,
		AllowOther:         true,
		CustomOptions:      "max_read=131072",
	}

	assert.Equal(t,
		"fd=3,rootmode=40555,user_id=1000,group_id=1001,"+
			"default_permissions,allow_other,max_read=131072",
		cfg.kernelMountData(3))
}

func TestKernelMountDataAllowRootImpliesAllowOther(t *testing.T) {
	cfg := &MountConfig{AllowRoot: true}

	// The kernel's data field only knows allow_other; the distinction is
	// the helper's business.
	assert.Contains(t, cfg.kernelMountData(3), "allow_other")
	assert.NotContains(t, cfg.kernelMountData(3), "allow_root")
}

func TestHelperOptions(t *testing.T) {
	cfg := &MountConfig{
		FSName:    "testfs",
		Subtype:   "unit",
		ReadOnly:  true,
		Nonempty:  true,
		AllowRoot: true,
	}

	opts := strings.Split(cfg.helperOptions(), ",")

	assert.Contains(t, opts, "allow_root")
	assert.NotContains(t, opts, "allow_other")
	assert.Contains(t, opts, "ro")
	assert.Contains(t, opts, "nonempty")
	assert.Contains(t, opts, "fsname=testfs")
	assert.Contains(t, opts, "subtype=unit")
}

func TestHelperOptionsDefaultFSName(t *testing.T) {
	cfg := &MountConfig{}
	assert.Contains(t,
		strings.Split(cfg.helperOptions(), ","), "fsname=fuse")
}
