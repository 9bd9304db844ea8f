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

package main

import (
	"context"
	"flag"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/samples/hellofs"
)

var fMountPoint = flag.String("mount_point", "", "Path to mount point.")
var fDebug = flag.Bool("debug", false, "Enable per-op debug logging.")

func main() {
	flag.Parse()

	log := logrus.New()

	if *fMountPoint == "" {
		log.Fatal("You must set --mount_point.")
	}

	server, err := hellofs.NewHelloFS(timeutil.RealClock())
	if err != nil {
		log.Fatalf("makeFS: %v", err)
	}

	cfg := &fuse.MountConfig{
		ReadOnly:    true,
		ErrorLogger: log,
	}

	if *fDebug {
		debug := logrus.New()
		debug.SetLevel(logrus.DebugLevel)
		cfg.DebugLogger = debug
	}

	mfs, err := fuse.Mount(*fMountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	// Wait for it to be unmounted.
	if err = mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}

	os.Exit(0)
}
