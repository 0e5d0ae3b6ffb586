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

// Package editor implements the stateful, modal repository metadata editor
// described for the CLI's `root`/`create`/`update`/`delegation` commands: it
// builds or mutates a repository.Repository in memory and signs it into
// byte-exact canonical metadata. Grounded on the teacher's legacy repo.go
// (mode-then-commit shape: operations apply to a "current" role, switching
// roles commits the previous one) and tough's editor/mod.rs (RepositoryEditor,
// delegation/cross-sign operations absent from the teacher).
package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/canonicaljson"
	"github.com/trustedupdates/tufcore/metadata/repository"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

func canonicalize(v any) ([]byte, error) {
	return canonicaljson.Encode(v)
}

// RepositoryEditor holds the in-progress repository plus the name of the
// targets-family role ("targets" or a delegated role name) that Add/Remove
// Target, SetVersion, and SetExpires currently apply to.
type RepositoryEditor struct {
	repo    *repository.Repository
	current string
}

// New starts a brand new repository editing session rooted at root. The
// editor opens in "targets" mode with a fresh, version-1 Targets role.
func New(root *metadata.Metadata[metadata.RootType]) *RepositoryEditor {
	repo := repository.New()
	repo.SetRoot(root)
	repo.SetTargets(metadata.TARGETS, metadata.Targets())
	return &RepositoryEditor{repo: repo, current: metadata.TARGETS}
}

// FromRepository resumes editing an already-loaded repository, opening in
// "targets" mode.
func FromRepository(repo *repository.Repository) *RepositoryEditor {
	return &RepositoryEditor{repo: repo, current: metadata.TARGETS}
}

// Repository returns the editor's underlying in-memory repository.
func (e *RepositoryEditor) Repository() *repository.Repository {
	return e.repo
}

// CurrentRole returns the name of the targets-family role operations
// currently apply to.
func (e *RepositoryEditor) CurrentRole() string {
	return e.current
}

func (e *RepositoryEditor) currentTargets() (*metadata.Metadata[metadata.TargetsType], error) {
	t := e.repo.Targets(e.current)
	if t == nil {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("no role %q open for editing", e.current)}
	}
	return t, nil
}

// ChangeRole signs the currently open role with keys (if any were supplied)
// and switches editing focus to name. If name has not been seen before, a
// fresh Targets role is opened for it with version 1 and expires set to the
// current time; version and expires are not cleared. Otherwise the existing
// in-progress metadata for name is reopened as-is.
func (e *RepositoryEditor) ChangeRole(name string, keys []signer.KeySource) error {
	if e.current != "" && len(keys) > 0 {
		if err := e.Sign(e.current, keys); err != nil {
			return fmt.Errorf("signing %s before switching roles: %w", e.current, err)
		}
	}
	if e.repo.Targets(name) == nil {
		e.repo.SetTargets(name, metadata.Targets())
	}
	e.current = name
	log.Debugf("editor: switched to role %s", name)
	return nil
}

// SetVersion sets the version of the currently open role.
func (e *RepositoryEditor) SetVersion(v int64) error {
	t, err := e.currentTargets()
	if err != nil {
		return err
	}
	t.Signed.Version = v
	return nil
}

// SetExpires sets the expiration of the currently open role.
func (e *RepositoryEditor) SetExpires(t time.Time) error {
	tg, err := e.currentTargets()
	if err != nil {
		return err
	}
	tg.Signed.Expires = t
	return nil
}

// AddTarget hashes data with SHA-256 and (if requested) SHA-512, and records
// it under localPath in the currently open role, preserving any `custom`
// blob already attached to an existing entry of the same name.
func (e *RepositoryEditor) AddTarget(localPath string, data []byte, hashAlgos ...string) error {
	if err := metadata.ValidateTargetPath(localPath); err != nil {
		return err
	}
	t, err := e.currentTargets()
	if err != nil {
		return err
	}
	tf, err := (&metadata.TargetFiles{}).FromBytes(localPath, data, hashAlgos...)
	if err != nil {
		return err
	}
	if existing, ok := t.Signed.Targets[localPath]; ok {
		tf.Custom = existing.Custom
	}
	t.Signed.Targets[localPath] = *tf
	log.Debugf("editor: added target %s (%d bytes) to %s", localPath, tf.Length, e.current)
	return nil
}

// hashedTarget is one worker's output: the target path relative to the
// walked directory, its hashed TargetFiles entry, or the error reading/
// hashing it.
type hashedTarget struct {
	rel string
	tf  *metadata.TargetFiles
	err error
}

// AddTargetsFromDir walks dir and adds every regular file it finds as a
// target of the currently open role, hashing file contents across a pool of
// jobs workers (per §5's "bulk hashing... parallelized across a worker pool
// bounded by a configuration option jobs"). Workers only read file bytes and
// compute hashes (read-only state); the resulting TargetFiles entries are
// installed into the role's target map from this goroutine only, so no lock
// is needed around the map itself. jobs < 1 is treated as 1.
func (e *RepositoryEditor) AddTargetsFromDir(dir string, jobs int, hashAlgos ...string) error {
	if jobs < 1 {
		jobs = 1
	}
	t, err := e.currentTargets()
	if err != nil {
		return err
	}

	type walkedFile struct{ rel, path string }
	paths := make(chan walkedFile)
	results := make(chan hashedTarget)

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wf := range paths {
				data, ferr := os.ReadFile(wf.path)
				if ferr != nil {
					results <- hashedTarget{rel: wf.rel, err: ferr}
					continue
				}
				tf, herr := (&metadata.TargetFiles{}).FromBytes(wf.rel, data, hashAlgos...)
				results <- hashedTarget{rel: wf.rel, tf: tf, err: herr}
			}
		}()
	}

	go func() {
		defer close(paths)
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				results <- hashedTarget{rel: path, err: walkErr}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				results <- hashedTarget{rel: path, err: relErr}
				return nil
			}
			paths <- walkedFile{rel: filepath.ToSlash(rel), path: path}
			return nil
		})
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	added := 0
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("hashing %s: %w", r.rel, r.err)
			}
			continue
		}
		if existing, ok := t.Signed.Targets[r.rel]; ok {
			r.tf.Custom = existing.Custom
		}
		t.Signed.Targets[r.rel] = *r.tf
		added++
	}
	if firstErr != nil {
		return firstErr
	}
	log.Debugf("editor: added %d targets from %s using %d workers", added, dir, jobs)
	return nil
}

// RemoveTarget removes path from the currently open role.
func (e *RepositoryEditor) RemoveTarget(path string) error {
	t, err := e.currentTargets()
	if err != nil {
		return err
	}
	if _, ok := t.Signed.Targets[path]; !ok {
		return metadata.ErrValue{Msg: fmt.Sprintf("target %s not present in %s", path, e.current)}
	}
	delete(t.Signed.Targets, path)
	return nil
}

// Sign appends a signature from each of keys over the canonical JSON of
// roleName's current Signed body. It does not clear prior signatures: call
// ClearSignatures first to re-sign from scratch after a body change.
func (e *RepositoryEditor) Sign(roleName string, keys []signer.KeySource) error {
	switch roleName {
	case metadata.ROOT:
		return signRole(e.repo.Root(), keys)
	case metadata.SNAPSHOT:
		return signRole(e.repo.Snapshot(), keys)
	case metadata.TIMESTAMP:
		return signRole(e.repo.Timestamp(), keys)
	default:
		t := e.repo.Targets(roleName)
		if t == nil {
			return metadata.ErrRepository{Msg: fmt.Sprintf("role %q not loaded", roleName)}
		}
		return signRole(t, keys)
	}
}

// signRole is the generic signing primitive every Sign/CrossSignRoot/Commit
// path in this package funnels through: canonicalize meta.Signed, sign it
// with each key, and append the resulting signatures. It is the KeySource
// analogue of metadata.Metadata.Sign (which takes a sigstore
// signature.Signer instead, for the local-only call sites in tests).
func signRole[T metadata.Roles](meta *metadata.Metadata[T], keys []signer.KeySource) error {
	if meta == nil {
		return metadata.ErrRepository{Msg: "cannot sign a nil role"}
	}
	payload, err := canonicalize(meta.Signed)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, k := range keys {
		sigBytes, err := k.Sign(ctx, payload)
		if err != nil {
			return err
		}
		pub, err := k.PublicKey()
		if err != nil {
			return err
		}
		meta.Signatures = append(meta.Signatures, metadata.Signature{
			KeyID:              pub.ID(),
			Signature:          sigBytes,
			UnrecognizedFields: map[string]any{},
		})
		log.Infof("editor: signed role with key ID %s", pub.ID())
	}
	return nil
}
