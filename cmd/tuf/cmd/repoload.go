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
	"os"
	"path/filepath"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/repository"
)

// loadRepository reads an already-emitted repository's metadata tree back
// into memory for incremental editing: root.json and targets.json are
// required, snapshot.json/timestamp.json and any delegated targets role
// named in snapshot.json are loaded if present.
func loadRepository(metadataDir string) (*repository.Repository, error) {
	repo := repository.New()

	root, err := new(metadata.Metadata[metadata.RootType]).FromFile(filepath.Join(metadataDir, "root.json"))
	if err != nil {
		return nil, err
	}
	repo.SetRoot(root)

	top, err := new(metadata.Metadata[metadata.TargetsType]).FromFile(filepath.Join(metadataDir, "targets.json"))
	if err != nil {
		return nil, err
	}
	repo.SetTargets(metadata.TARGETS, top)

	if snap, err := loadSnapshotIfPresent(metadataDir); err == nil && snap != nil {
		repo.SetSnapshot(snap)
		for fileName := range snap.Signed.Meta {
			name := fileName[:len(fileName)-len(".json")]
			if name == metadata.TARGETS {
				continue
			}
			if dt, derr := new(metadata.Metadata[metadata.TargetsType]).FromFile(filepath.Join(metadataDir, fileName)); derr == nil {
				repo.SetTargets(name, dt)
			}
		}
	}
	if ts, err := loadTimestampIfPresent(metadataDir); err == nil && ts != nil {
		repo.SetTimestamp(ts)
	}
	return repo, nil
}

func loadSnapshotIfPresent(metadataDir string) (*metadata.Metadata[metadata.SnapshotType], error) {
	path := filepath.Join(metadataDir, "snapshot.json")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return new(metadata.Metadata[metadata.SnapshotType]).FromFile(path)
}

func loadTimestampIfPresent(metadataDir string) (*metadata.Metadata[metadata.TimestampType], error) {
	path := filepath.Join(metadataDir, "timestamp.json")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return new(metadata.Metadata[metadata.TimestampType]).FromFile(path)
}
