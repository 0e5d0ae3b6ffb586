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

package simulator

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// InitMetadataDir creates a fresh temp directory laid out the way
// updater.New expects (a metadata/ subdir seeded with the simulator's
// current root.json, plus an empty targets/ subdir), and returns the
// simulator alongside both paths. Callers should `defer os.RemoveAll` on
// the returned root temp dir.
func InitMetadataDir() (sim *RepositorySimulator, metadataDir, targetsDir, tmpDir string, err error) {
	tmpDir, err = os.MkdirTemp("", "tufcore-sim-")
	if err != nil {
		return nil, "", "", "", err
	}
	metadataDir = filepath.Join(tmpDir, "metadata")
	targetsDir = filepath.Join(tmpDir, "targets")
	if err = os.Mkdir(metadataDir, 0750); err != nil {
		return nil, "", "", "", err
	}
	if err = os.Mkdir(targetsDir, 0750); err != nil {
		return nil, "", "", "", err
	}

	sim = NewRepository()
	if err = os.WriteFile(filepath.Join(metadataDir, "root.json"), sim.SignedRoots[0], 0640); err != nil {
		return nil, "", "", "", err
	}
	log.Debugf("simulator: initialized metadata dir at %s", metadataDir)
	return sim, metadataDir, targetsDir, tmpDir, nil
}
