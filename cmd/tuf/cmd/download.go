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
	dlRootPath     string
	dlMetadataURL  string
	dlTargetsURL   string
	dlOutdir       string
	dlTargetFilter []string
	dlAllowExpired bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch and verify a repository's targets to --outdir",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(false)
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Like download, writing each target under its target path; metadata is saved as in download",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(true)
	},
}

func registerDownloadFlags(c *cobra.Command) {
	c.Flags().StringVar(&dlRootPath, "root", "", "path to a trusted root.json")
	c.Flags().StringVar(&dlMetadataURL, "metadata-url", "", "base URL of the repository's metadata")
	c.Flags().StringVar(&dlTargetsURL, "targets-url", "", "base URL of the repository's targets (defaults to metadata-url)")
	c.Flags().StringVar(&dlOutdir, "outdir", "", "output directory (must not exist)")
	c.Flags().StringArrayVar(&dlTargetFilter, "target", nil, "only download this target (repeatable); default is every target")
	c.Flags().BoolVar(&dlAllowExpired, "allow-expired", false, "accept expired metadata as a warning instead of a fatal error")
}

func init() {
	registerDownloadFlags(downloadCmd)
	registerDownloadFlags(cloneCmd)
	rootCmd.AddCommand(downloadCmd, cloneCmd)
}

func runDownload(preserveLayout bool) error {
	if dlRootPath == "" || dlMetadataURL == "" || dlOutdir == "" {
		return errUsage("--root, --metadata-url, and --outdir are required")
	}
	if _, err := os.Stat(dlOutdir); err == nil {
		return errUsage("%s already exists", dlOutdir)
	}
	targetsURL := dlTargetsURL
	if targetsURL == "" {
		targetsURL = dlMetadataURL
	}

	metadataDir := filepath.Join(dlOutdir, "metadata")
	targetDir := filepath.Join(dlOutdir, "targets")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}

	rootBytes, err := readFile(dlRootPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metadataDir, "root.json"), rootBytes, 0644); err != nil {
		return err
	}

	cfg := config.New()
	cfg.AllowExpiredRepo = dlAllowExpired
	up, err := updater.NewWithConfig(metadataDir, dlMetadataURL, targetDir, targetsURL, nil, cfg)
	if err != nil {
		return fmt.Errorf("initializing updater: %w", err)
	}
	if err := up.Refresh(); err != nil {
		return fmt.Errorf("refreshing trusted metadata: %w", err)
	}
	for _, w := range up.Warnings() {
		log.Warn(w)
	}

	names := dlTargetFilter
	if len(names) == 0 {
		names, err = up.AllTargetPaths()
		if err != nil {
			return err
		}
	}

	for _, name := range names {
		info, err := up.GetTargetInfo(name)
		if err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
		filePath := ""
		if preserveLayout {
			filePath = filepath.Join(targetDir, name)
		}
		path, cacheErr := up.FindCachedTarget(info, filePath)
		if cacheErr != nil {
			path, err = up.DownloadTarget(info, filePath, "")
			if err != nil {
				return fmt.Errorf("downloading %s: %w", name, err)
			}
		}
		fmt.Fprintf(os.Stdout, "%s -> %s\n", name, path)
	}
	return nil
}
