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
	"fmt"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/samples/memfs"
)

var (
	flagDebug      bool
	flagReadOnly   bool
	flagAllowOther bool
	flagFSName     string
	flagOptions    string
)

func registerFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&flagDebug, "debug", false, "Enable per-op debug logging.")
	flags.BoolVar(&flagReadOnly, "read-only", false, "Mount read-only.")
	flags.BoolVar(&flagAllowOther, "allow-other", false,
		"Permit other users to access the mount.")
	flags.StringVar(&flagFSName, "fs-name", "memfs",
		"Name shown in the mount table.")
	flags.StringVar(&flagOptions, "o", "",
		"Additional mount options, passed through verbatim.")
}

func mountAndServe(mountPoint string) error {
	log := logrus.New()

	server := memfs.NewMemFS(
		uint32(os.Getuid()),
		uint32(os.Getgid()),
		timeutil.RealClock())

	cfg := &fuse.MountConfig{
		FSName:        flagFSName,
		ReadOnly:      flagReadOnly,
		AllowOther:    flagAllowOther,
		CustomOptions: flagOptions,
		ErrorLogger:   log,
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
		Use:   "mount_memfs <mount-point>",
		Short: "Mount an in-memory scratch file system.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mountAndServe(args[0])
		},
		SilenceUsage: true,
	}

	registerFlags(root.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
