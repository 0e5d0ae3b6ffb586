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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustedupdates/tufcore/metadata/config"
	"github.com/trustedupdates/tufcore/metadata/updater"
)

var (
	tmRootPath     string
	tmMetadataURL  string
	tmOutdir       string
	tmAllowExpired bool
)

var transferMetadataCmd = &cobra.Command{
	Use:   "transfer-metadata",
	Short: "Fetch and verify a repository's metadata only, without downloading targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tmRootPath == "" || tmMetadataURL == "" || tmOutdir == "" {
			return errUsage("--root, --metadata-url, and --outdir are required")
		}
		if _, err := os.Stat(tmOutdir); err == nil {
			return errUsage("%s already exists", tmOutdir)
		}
		metadataDir := filepath.Join(tmOutdir, "metadata")
		if err := os.MkdirAll(metadataDir, 0755); err != nil {
			return err
		}
		rootBytes, err := readFile(tmRootPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(metadataDir, "root.json"), rootBytes, 0644); err != nil {
			return err
		}
		// targetDir/targetBaseUrl are unused by Refresh, only needed for
		// DownloadTarget; pass placeholders since this command never calls it.
		cfg := config.New()
		cfg.AllowExpiredRepo = tmAllowExpired
		up, err := updater.NewWithConfig(metadataDir, tmMetadataURL, metadataDir, tmMetadataURL, nil, cfg)
		if err != nil {
			return fmt.Errorf("initializing updater: %w", err)
		}
		if err := up.Refresh(); err != nil {
			return fmt.Errorf("refreshing trusted metadata: %w", err)
		}
		for _, w := range up.Warnings() {
			log.Warn(w)
		}
		fmt.Fprintf(os.Stdout, "metadata written to %s\n", metadataDir)
		return nil
	},
}

func init() {
	transferMetadataCmd.Flags().StringVar(&tmRootPath, "root", "", "path to a trusted root.json")
	transferMetadataCmd.Flags().StringVar(&tmMetadataURL, "metadata-url", "", "base URL of the repository's metadata")
	transferMetadataCmd.Flags().StringVar(&tmOutdir, "outdir", "", "output directory (must not exist)")
	transferMetadataCmd.Flags().BoolVar(&tmAllowExpired, "allow-expired", false, "accept expired metadata as a warning instead of a fatal error")
	rootCmd.AddCommand(transferMetadataCmd)
}
