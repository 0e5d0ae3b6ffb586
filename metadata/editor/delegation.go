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
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/trustedupdates/tufcore/metadata"
)

// DelegateRoleOptions configures a new delegation, mirroring the CLI's
// `delegation create-role` flags. Exactly one of Paths/PathHashPrefixes must
// be set, per §4.3's "exactly one of paths / path_hash_prefixes" rule.
type DelegateRoleOptions struct {
	Keys             []*metadata.Key
	Threshold        int
	Paths            []string
	PathHashPrefixes []string
	Terminating      bool
}

func (o DelegateRoleOptions) validate(name string) error {
	if o.Threshold < 1 {
		return metadata.ErrThreshold{Role: name, Got: 0, Wanted: o.Threshold}
	}
	if len(o.Paths) > 0 == (len(o.PathHashPrefixes) > 0) {
		return metadata.ErrValue{Msg: fmt.Sprintf("delegation %s must set exactly one of paths or path_hash_prefixes", name)}
	}
	return nil
}

// DelegateRole creates a new child role named name, delegated to from the
// currently open role, and installs an empty version-1 Targets metadata for
// it. The delegator's own signature over the new Delegations block is not
// produced here: call Sign(e.CurrentRole(), ...) (or let Commit do it)
// afterward.
func (e *RepositoryEditor) DelegateRole(name string, opts DelegateRoleOptions) error {
	if err := opts.validate(name); err != nil {
		return err
	}
	parent, err := e.currentTargets()
	if err != nil {
		return err
	}
	if parent.Signed.Delegations == nil {
		parent.Signed.Delegations = &metadata.Delegations{
			Keys:               map[string]*metadata.Key{},
			Roles:              []metadata.DelegatedRole{},
			UnrecognizedFields: map[string]any{},
		}
	}
	for _, r := range parent.Signed.Delegations.Roles {
		if r.Name == name {
			return metadata.ErrValue{Msg: fmt.Sprintf("role %s is already delegated from %s", name, e.current)}
		}
	}
	keyIDs := make([]string, 0, len(opts.Keys))
	for _, k := range opts.Keys {
		parent.Signed.Delegations.Keys[k.ID()] = k
		keyIDs = append(keyIDs, k.ID())
	}
	parent.Signed.Delegations.Roles = append(parent.Signed.Delegations.Roles, metadata.DelegatedRole{
		Name:               name,
		KeyIDs:             keyIDs,
		Threshold:          opts.Threshold,
		Terminating:        opts.Terminating,
		Paths:              opts.Paths,
		PathHashPrefixes:   opts.PathHashPrefixes,
		UnrecognizedFields: map[string]any{},
	})
	e.repo.SetTargets(name, metadata.Targets())
	log.Infof("editor: delegated role %s from %s", name, e.current)
	return nil
}

// AddRole attaches metadata for child that was signed by a party who does
// not hold the current (delegator) role's keys: the delegator only needs to
// record the child's authorized keys/threshold/path-authority, not produce
// the child's signatures itself.
func (e *RepositoryEditor) AddRole(name string, child *metadata.Metadata[metadata.TargetsType], opts DelegateRoleOptions) error {
	if err := e.DelegateRole(name, opts); err != nil {
		return err
	}
	e.repo.SetTargets(name, child)
	return nil
}

// UpdateRole replaces the known metadata for an already-delegated child,
// rejecting a non-increasing version (the only ordering guarantee the
// repository editor itself enforces; full signature/threshold verification
// of the incoming metadata is the caller's responsibility, e.g. via
// trustedmetadata.UpdateDelegatedTargets before calling this).
func (e *RepositoryEditor) UpdateRole(name string, newMeta *metadata.Metadata[metadata.TargetsType]) error {
	existing := e.repo.Targets(name)
	if existing == nil {
		return metadata.ErrRepository{Msg: fmt.Sprintf("role %s is not a known delegate", name)}
	}
	if newMeta.Signed.Version <= existing.Signed.Version {
		return metadata.ErrRollback{Role: name, Current: existing.Signed.Version, New: newMeta.Signed.Version}
	}
	e.repo.SetTargets(name, newMeta)
	log.Infof("editor: updated role %s to v%d", name, newMeta.Signed.Version)
	return nil
}

// RemoveRole removes the delegation entry named name from the currently
// open role's Delegations, and drops its loaded metadata from the
// repository. When recursive is true, every descendant of name (as recorded
// in the repository's currently loaded delegated-targets metadata) is
// removed too, pruning the subtree rather than leaving orphaned children
// that are no longer reachable from any delegator.
func (e *RepositoryEditor) RemoveRole(name string, recursive bool) error {
	parent, err := e.currentTargets()
	if err != nil {
		return err
	}
	if parent.Signed.Delegations == nil {
		return metadata.ErrValue{Msg: fmt.Sprintf("role %s has no delegations", e.current)}
	}
	idx := -1
	for i, r := range parent.Signed.Delegations.Roles {
		if r.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return metadata.ErrValue{Msg: fmt.Sprintf("role %s does not delegate to %s", e.current, name)}
	}
	roles := parent.Signed.Delegations.Roles
	parent.Signed.Delegations.Roles = append(roles[:idx], roles[idx+1:]...)

	if recursive {
		e.removeSubtree(name)
	}
	e.repo.RemoveTargetsRole(name)
	log.Infof("editor: removed role %s from %s (recursive=%v)", name, e.current, recursive)
	return nil
}

// removeSubtree drops every descendant of name already loaded into the
// repository, walking name's own Delegations if present.
func (e *RepositoryEditor) removeSubtree(name string) {
	child := e.repo.Targets(name)
	if child == nil || child.Signed.Delegations == nil {
		return
	}
	for _, grandchild := range child.Signed.Delegations.Roles {
		e.removeSubtree(grandchild.Name)
		e.repo.RemoveTargetsRole(grandchild.Name)
	}
}

// AddKey adds key as an authorized signer for roleName. If roleName is a
// top-level role name known to root, the key is added to the root document;
// otherwise roleName must be delegated from the currently open role, and the
// key is added to that delegation entry.
func (e *RepositoryEditor) AddKey(key *metadata.Key, roleName string) error {
	if _, ok := e.repo.Root().Signed.Roles[roleName]; ok {
		return e.repo.Root().Signed.AddKey(key, roleName)
	}
	parent, err := e.currentTargets()
	if err != nil {
		return err
	}
	return parent.Signed.AddKey(key, roleName)
}

// RemoveKey symmetrically removes keyID's authority over roleName.
func (e *RepositoryEditor) RemoveKey(keyID, roleName string) error {
	if _, ok := e.repo.Root().Signed.Roles[roleName]; ok {
		return e.repo.Root().Signed.RevokeKey(keyID, roleName)
	}
	parent, err := e.currentTargets()
	if err != nil {
		return err
	}
	return parent.Signed.RevokeKey(keyID, roleName)
}
