// Copyright 2024 The Update Framework Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/editor"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

var (
	createRootPath      string
	createTargetsDir    string
	createOutdir        string
	createConfigPath    string
	createExpires       string
	createVersion       int64
	createTargetsKeys   []string
	createSnapshotKeys  []string
	createTimestampKeys []string
	createJobs          int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Sign a new repository from a root and a target input directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createRootPath == "" || createTargetsDir == "" || createOutdir == "" {
			return errUsage("--root, --targets-dir, and --outdir are required")
		}
		root, err := new(metadata.Metadata[metadata.RootType]).FromFile(createRootPath)
		if err != nil {
			return err
		}
		cfg, err := loadEditorConfig(createConfigPath)
		if err != nil {
			return err
		}
		targetsKeys, err := resolveRoleKeys(cfg, metadata.TARGETS, createTargetsKeys)
		if err != nil {
			return err
		}
		if len(targetsKeys) == 0 {
			return errUsage("at least one --key or --config roles.targets.keys entry is required")
		}
		snapshotKeys, err := resolveRoleKeys(cfg, metadata.SNAPSHOT, createSnapshotKeys)
		if err != nil {
			return err
		}
		if len(snapshotKeys) == 0 {
			return errUsage("at least one --snapshot-key or --config roles.snapshot.keys entry is required")
		}
		timestampKeys, err := resolveRoleKeys(cfg, metadata.TIMESTAMP, createTimestampKeys)
		if err != nil {
			return err
		}
		if len(timestampKeys) == 0 {
			return errUsage("at least one --timestamp-key or --config roles.timestamp.keys entry is required")
		}

		e := editor.New(root)
		if createExpires != "" {
			expires, err := parseExpires(createExpires)
			if err != nil {
				return err
			}
			if err := e.SetExpires(expires); err != nil {
				return err
			}
		}
		if createVersion > 0 {
			if err := e.SetVersion(createVersion); err != nil {
				return err
			}
		}

		if err := e.AddTargetsFromDir(createTargetsDir, createJobs, "sha256", "sha512"); err != nil {
			return fmt.Errorf("walking %s: %w", createTargetsDir, err)
		}

		keys := map[string][]signer.KeySource{
			metadata.TARGETS:   targetsKeys,
			metadata.SNAPSHOT:  snapshotKeys,
			metadata.TIMESTAMP: timestampKeys,
		}
		if err := e.Commit(keys, createOutdir); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "repository written to %s\n", createOutdir)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createRootPath, "root", "", "path to a signed root.json")
	createCmd.Flags().StringVar(&createTargetsDir, "targets-dir", "", "directory of target files to add")
	createCmd.Flags().StringVar(&createOutdir, "outdir", "", "output directory for the new repository metadata")
	createCmd.Flags().StringVar(&createConfigPath, "config", "", "YAML file declaring default signing keys per role")
	createCmd.Flags().StringVar(&createExpires, "expires", "", "expiration for the targets role")
	createCmd.Flags().Int64Var(&createVersion, "version", 0, "version for the targets role (default: 1)")
	createCmd.Flags().StringArrayVar(&createTargetsKeys, "key", nil, "targets-role key source (repeatable)")
	createCmd.Flags().StringArrayVar(&createSnapshotKeys, "snapshot-key", nil, "snapshot-role key source (repeatable)")
	createCmd.Flags().StringArrayVar(&createTimestampKeys, "timestamp-key", nil, "timestamp-role key source (repeatable)")
	createCmd.Flags().IntVar(&createJobs, "jobs", 1, "number of parallel workers for target hashing")
	rootCmd.AddCommand(createCmd)
}
