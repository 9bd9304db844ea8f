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

//go:build linux

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/samples/pathloopbackfs"
)

var (
	flagDebug    bool
	flagReadOnly bool
)

func mountAndServe(realRoot string, mountPoint string) error {
	log := logrus.New()

	server := pathloopbackfs.NewPathLoopbackFS(realRoot)

	cfg := &fuse.MountConfig{
		FSName:      "pathloopbackfs",
		Subtype:     "loopback",
		ReadOnly:    flagReadOnly,
		ErrorLogger: log,
	}

	if flagDebug {
		debug := logrus.New()
		debug.SetLevel(logrus.DebugLevel)
		cfg.DebugLogger = debug
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		return fmt.Errorf("mounting %q: %w", mountPoint, err)
	}

	return mfs.Join(context.Background())
}

func main() {
	root := &cobra.Command{
		Use:   "mount_pathloopbackfs <real-root> <mount-point>",
		Short: "Mirror a directory through the path-based interface.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mountAndServe(args[0], args[1])
		},
		SilenceUsage: true,
	}

	root.Flags().BoolVar(&flagDebug, "debug", false,
		"Enable per-op debug logging.")
	root.Flags().BoolVar(&flagReadOnly, "read-only", false,
		"Mount read-only.")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
