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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/editor"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

var (
	updateMetadataDir      string
	updateOutdir           string
	updateConfigPath       string
	updateRole             string
	updateIncomingMetadata string
	updateAdd              []string
	updateExpires          string
	updateVersion          int64
	updateTargetsKeys      []string
	updateSnapshotKeys     []string
	updateTimestampKeys    []string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh timestamp/snapshot/targets, optionally adding targets or installing incoming delegated metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		if updateMetadataDir == "" || updateOutdir == "" {
			return errUsage("--metadata-dir and --outdir are required")
		}
		role := updateRole
		if role == "" {
			role = metadata.TARGETS
		}
		repo, err := loadRepository(updateMetadataDir)
		if err != nil {
			return err
		}
		e := editor.FromRepository(repo)
		if err := e.ChangeRole(role, nil); err != nil {
			return err
		}

		if updateIncomingMetadata != "" {
			incoming, err := new(metadata.Metadata[metadata.TargetsType]).FromFile(updateIncomingMetadata)
			if err != nil {
				return err
			}
			if err := e.UpdateRole(role, incoming); err != nil {
				return err
			}
		} else {
			if updateExpires != "" {
				expires, err := parseExpires(updateExpires)
				if err != nil {
					return err
				}
				if err := e.SetExpires(expires); err != nil {
					return err
				}
			}
			if updateVersion > 0 {
				if err := e.SetVersion(updateVersion); err != nil {
					return err
				}
			}
			for _, path := range updateAdd {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name := filepath.ToSlash(filepath.Base(path))
				if err := e.AddTarget(name, data, "sha256", "sha512"); err != nil {
					return err
				}
			}
		}

		cfg, err := loadEditorConfig(updateConfigPath)
		if err != nil {
			return err
		}
		targetsKeys, err := resolveRoleKeys(cfg, role, updateTargetsKeys)
		if err != nil {
			return err
		}
		if len(targetsKeys) == 0 {
			return errUsage("at least one --key or --config roles.%s.keys entry is required", role)
		}
		snapshotKeys, err := resolveRoleKeys(cfg, metadata.SNAPSHOT, updateSnapshotKeys)
		if err != nil {
			return err
		}
		if len(snapshotKeys) == 0 {
			return errUsage("at least one --snapshot-key or --config roles.snapshot.keys entry is required")
		}
		timestampKeys, err := resolveRoleKeys(cfg, metadata.TIMESTAMP, updateTimestampKeys)
		if err != nil {
			return err
		}
		if len(timestampKeys) == 0 {
			return errUsage("at least one --timestamp-key or --config roles.timestamp.keys entry is required")
		}
		keys := map[string][]signer.KeySource{
			role:               targetsKeys,
			metadata.SNAPSHOT:  snapshotKeys,
			metadata.TIMESTAMP: timestampKeys,
		}
		if err := e.Commit(keys, updateOutdir); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "updated repository written to %s\n", updateOutdir)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateMetadataDir, "metadata-dir", "", "directory holding the current repository metadata")
	updateCmd.Flags().StringVar(&updateOutdir, "outdir", "", "output directory for the updated repository metadata")
	updateCmd.Flags().StringVar(&updateConfigPath, "config", "", "YAML file declaring default signing keys per role")
	updateCmd.Flags().StringVar(&updateRole, "role", "", "targets-family role to update (default: targets)")
	updateCmd.Flags().StringVar(&updateIncomingMetadata, "incoming-metadata", "", "path to pre-signed metadata to install for --role")
	updateCmd.Flags().StringArrayVar(&updateAdd, "add", nil, "local file to add as a target (repeatable)")
	updateCmd.Flags().StringVar(&updateExpires, "expires", "", "new expiration for --role")
	updateCmd.Flags().Int64Var(&updateVersion, "version", 0, "new version for --role")
	updateCmd.Flags().StringArrayVar(&updateTargetsKeys, "key", nil, "--role's key source (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateSnapshotKeys, "snapshot-key", nil, "snapshot-role key source (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateTimestampKeys, "timestamp-key", nil, "timestamp-role key source (repeatable)")
	rootCmd.AddCommand(updateCmd)
}
