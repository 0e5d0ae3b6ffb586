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

package editor

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

// CrossSignRoot installs newRoot as the repository's root document and signs
// it with both oldKeys (the outgoing root's signing keys) and newKeys (the
// incoming root's), so that clients pinned to either version 1) accepts the
// rotation as a valid single-version root update. Per the client's
// root-update loop, a new root must carry enough signatures to satisfy both
// the old root's and the new root's thresholds; this is how a repository
// operator produces that document instead of requiring two.
func (e *RepositoryEditor) CrossSignRoot(newRoot *metadata.Metadata[metadata.RootType], oldKeys, newKeys []signer.KeySource) error {
	old := e.repo.Root()
	if old != nil && newRoot.Signed.Version <= old.Signed.Version {
		return metadata.ErrRollback{Role: metadata.ROOT, Current: old.Signed.Version, New: newRoot.Signed.Version}
	}
	e.repo.SetRoot(newRoot)
	if err := signRole(newRoot, oldKeys); err != nil {
		return fmt.Errorf("cross-signing root with outgoing keys: %w", err)
	}
	if err := signRole(newRoot, newKeys); err != nil {
		return fmt.Errorf("cross-signing root with incoming keys: %w", err)
	}
	log.Infof("editor: cross-signed root v%d (%d old-key + %d new-key signatures)", newRoot.Signed.Version, len(oldKeys), len(newKeys))
	return nil
}

// Commit signs every loaded targets-family role, builds and signs Snapshot
// to reference their resulting version/length/hashes, builds and signs
// Timestamp to reference Snapshot the same way, and atomically writes the
// full metadata set to outDir. keys maps role name (targets-family roles,
// "snapshot", "timestamp") to the KeySource set that should sign it; a role
// with no entry is written with whatever signatures it already carries.
// Root is never signed here: it is written with the signatures it already
// carries, and keys["root"] is not used.
//
// Commit is deterministic given identical inputs and a fixed clock: two
// independent editing sessions that apply the same edits and sign with the
// same keys produce byte-identical metadata, since canonicaljson.Encode
// never varies key order and Version/Expires are always caller-supplied.
func (e *RepositoryEditor) Commit(keys map[string][]signer.KeySource, outDir string) error {
	if e.repo.Root() == nil {
		return metadata.ErrRepository{Msg: "cannot commit: no root loaded"}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	consistent := e.repo.Root().Signed.ConsistentSnapshot

	snapshotMeta := map[string]metadata.MetaFiles{}
	for _, name := range e.repo.DelegatedRoleNames() {
		t := e.repo.Targets(name)
		if ks := keys[name]; len(ks) > 0 {
			if err := signRole(t, ks); err != nil {
				return fmt.Errorf("signing %s: %w", name, err)
			}
		}
		data, err := canonicalize(t)
		if err != nil {
			return err
		}
		if err := e.writeRole(outDir, name, t.Signed.Version, consistent, data); err != nil {
			return err
		}
		snapshotMeta[name+".json"] = fileMeta(data, t.Signed.Version)
	}

	snap := e.repo.Snapshot()
	if snap == nil {
		snap = metadata.Snapshot()
	}
	snap.Signed.Meta = snapshotMeta
	if ks := keys[metadata.SNAPSHOT]; len(ks) > 0 {
		if err := signRole(snap, ks); err != nil {
			return fmt.Errorf("signing snapshot: %w", err)
		}
	}
	e.repo.SetSnapshot(snap)
	snapData, err := canonicalize(snap)
	if err != nil {
		return err
	}
	if err := e.writeRole(outDir, metadata.SNAPSHOT, snap.Signed.Version, consistent, snapData); err != nil {
		return err
	}

	ts := e.repo.Timestamp()
	if ts == nil {
		ts = metadata.Timestamp()
	}
	ts.Signed.Meta = map[string]metadata.MetaFiles{
		"snapshot.json": fileMeta(snapData, snap.Signed.Version),
	}
	if ks := keys[metadata.TIMESTAMP]; len(ks) > 0 {
		if err := signRole(ts, ks); err != nil {
			return fmt.Errorf("signing timestamp: %w", err)
		}
	}
	e.repo.SetTimestamp(ts)
	tsData, err := canonicalize(ts)
	if err != nil {
		return err
	}
	// timestamp.json is never version-prefixed, even under consistent
	// snapshots: clients always fetch it by its bare name.
	if err := e.writeFile(filepath.Join(outDir, "timestamp.json"), tsData); err != nil {
		return err
	}

	rootData, err := canonicalize(e.repo.Root())
	if err != nil {
		return err
	}
	if err := e.writeRole(outDir, metadata.ROOT, e.repo.Root().Signed.Version, true, rootData); err != nil {
		return err
	}

	log.Infof("editor: committed repository to %s (%d targets-family roles)", outDir, len(e.repo.DelegatedRoleNames()))
	return nil
}

// writeRole writes a role's canonical bytes to name.json, and (when
// consistent is set) additionally to version.name.json, per the
// consistent-snapshot convention §4.8 describes for both root and every
// role referenced from Snapshot.
func (e *RepositoryEditor) writeRole(outDir, name string, version int64, consistent bool, data []byte) error {
	if err := e.writeFile(filepath.Join(outDir, name+".json"), data); err != nil {
		return err
	}
	if consistent {
		versioned := filepath.Join(outDir, fmt.Sprintf("%d.%s.json", version, name))
		if err := e.writeFile(versioned, data); err != nil {
			return err
		}
	}
	return nil
}

// writeFile writes data to path via a temp-file-then-rename, so a reader
// polling outDir never observes a truncated metadata file.
func (e *RepositoryEditor) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tuf_tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// fileMeta computes the MetaFiles record (length + sha256 + sha512 hashes)
// that Snapshot/Timestamp use to reference a child role's emitted bytes.
func fileMeta(data []byte, version int64) metadata.MetaFiles {
	sum256 := sha256.Sum256(data)
	sum512 := sha512.Sum512(data)
	return metadata.MetaFiles{
		Length:  int64(len(data)),
		Version: version,
		Hashes: metadata.Hashes{
			"sha256": metadata.HexBytes(sum256[:]),
			"sha512": metadata.HexBytes(sum512[:]),
		},
		UnrecognizedFields: map[string]any{},
	}
}
