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

// Package simulator provides an in-memory repository that an updater.Updater
// can walk through the updater/fetcher.Fetcher interface, so client workflow
// tests can publish new repository versions and "fetch" them without a real
// HTTP server. Grounded on the teacher's testutils/simulator package, adapted
// to this module's flat "<base>/<version>.<role>.json" URL layout (see
// updater.Updater.downloadMetadata/DownloadTarget) rather than the teacher's
// "/metadata/"+"/targets/" path-prefixed layout.
package simulator

import (
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/fetcher"
)

// MetadataBaseURL and TargetsBaseURL are the fixed base URLs a
// RepositorySimulator serves from. Pass them straight through to
// updater.New: no network connection, file access, or real HTTP server is
// ever involved, everything is resolved from the simulator's in-memory
// state.
const (
	MetadataBaseURL = "https://simulator.invalid/metadata/"
	TargetsBaseURL  = "https://simulator.invalid/targets/"
)

// RepositoryTarget pairs a target's raw bytes with its hashed TargetFiles
// record, so the simulator can both serve the bytes and answer hash-prefix
// lookups for consistent-snapshot targets.
type RepositoryTarget struct {
	Data       []byte
	TargetFile *metadata.TargetFiles
}

// RepositorySimulator simulates a repository that can be used for testing
// the client update workflow: metadata is modified directly through the
// exported MD* fields and published with UpdateSnapshot/PublishRoot, then
// served to an Updater via DownloadFile.
type RepositorySimulator struct {
	MDRoot      *metadata.Metadata[metadata.RootType]
	MDTimestamp *metadata.Metadata[metadata.TimestampType]
	MDSnapshot  *metadata.Metadata[metadata.SnapshotType]
	MDTargets   *metadata.Metadata[metadata.TargetsType]
	MDDelegates map[string]*metadata.Metadata[metadata.TargetsType]

	// Signers holds the signers available to sign each role's metadata at
	// fetch time, keyed by role name then keyid.
	Signers map[string]map[string]signature.Signer

	// SignedRoots holds every published root version's serialized bytes,
	// in order: SignedRoots[v-1] is version v. Every other role is signed
	// on demand when fetched; root requires the explicit PublishRoot call
	// because root versions must remain immutable once served.
	SignedRoots [][]byte

	TargetFiles map[string]RepositoryTarget

	// ComputeMetafileHashesAndLength: when set, snapshot/timestamp meta entries carry a real
	// length and sha256 hash of the referenced file instead of being left
	// empty (which the spec also treats as valid: hashes and length are
	// optional extra integrity checks on top of the version check).
	ComputeMetafileHashesAndLength bool

	// PrefixTargetsWithHash controls whether fetched target URLs are
	// expected to carry a "<hexdigest>." filename prefix when the
	// repository's root uses consistent snapshots.
	PrefixTargetsWithHash bool

	SafeExpiry time.Time
}

var _ fetcher.Fetcher = (*RepositorySimulator)(nil)

// NewRepository initializes a RepositorySimulator with a minimal valid
// one-key-per-role repository, already published.
func NewRepository() *RepositorySimulator {
	now := time.Now().UTC()
	rs := &RepositorySimulator{
		MDDelegates:           map[string]*metadata.Metadata[metadata.TargetsType]{},
		Signers:               map[string]map[string]signature.Signer{},
		SignedRoots:           [][]byte{},
		TargetFiles:           map[string]RepositoryTarget{},
		PrefixTargetsWithHash: true,
		SafeExpiry:            now.Truncate(time.Second).AddDate(0, 0, 30),
	}
	rs.setupMinimalValidRepository()
	return rs
}

func (rs *RepositorySimulator) setupMinimalValidRepository() {
	rs.MDRoot = metadata.Root(rs.SafeExpiry)
	rs.MDTimestamp = metadata.Timestamp(rs.SafeExpiry)
	rs.MDSnapshot = metadata.Snapshot(rs.SafeExpiry)
	rs.MDTargets = metadata.Targets(rs.SafeExpiry)

	for _, role := range []string{metadata.ROOT, metadata.SNAPSHOT, metadata.TARGETS, metadata.TIMESTAMP} {
		pub, _, signer := CreateKey()
		key, err := metadata.KeyFromPublicKey(pub)
		if err != nil {
			log.Fatalf("simulator: key conversion failed setting up %s: %v", role, err)
		}
		if err := rs.MDRoot.Signed.AddKey(key, role); err != nil {
			log.Debugf("simulator: failed to add key for %s: %v", role, err)
		}
		rs.AddSigner(role, key.ID(), signer)
	}
	rs.PublishRoot()
}

// CreateKey generates a fresh ed25519 keypair and the sigstore signer that
// signs with it, the same primitive the teacher's simulator uses since it
// needs no file or KMS round trip.
func CreateKey() (ed25519.PublicKey, ed25519.PrivateKey, signature.Signer) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatalf("simulator: failed to generate key: %v", err)
	}
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	if err != nil {
		log.Fatalf("simulator: failed to load signer: %v", err)
	}
	return pub, priv, signer
}

// AddSigner registers signer under role/keyID to be used whenever that
// role's metadata is next fetched (or, for root, next published).
func (rs *RepositorySimulator) AddSigner(role, keyID string, signer signature.Signer) {
	if rs.Signers[role] == nil {
		rs.Signers[role] = map[string]signature.Signer{}
	}
	rs.Signers[role][keyID] = signer
}

// RotateKeys drops every key currently authorized for role and replaces it
// with role's current signature threshold worth of fresh keys, useful for
// exercising root-chain key-rotation scenarios.
func (rs *RepositorySimulator) RotateKeys(role string) {
	rs.MDRoot.Signed.Roles[role].KeyIDs = nil
	for k := range rs.Signers[role] {
		delete(rs.Signers[role], k)
	}
	threshold := rs.MDRoot.Signed.Roles[role].Threshold
	for i := 0; i < threshold; i++ {
		pub, _, signer := CreateKey()
		key, err := metadata.KeyFromPublicKey(pub)
		if err != nil {
			log.Fatalf("simulator: key conversion failed rotating %s: %v", role, err)
		}
		if err := rs.MDRoot.Signed.AddKey(key, role); err != nil {
			log.Debugf("simulator: failed to add key rotating %s: %v", role, err)
		}
		rs.AddSigner(role, key.ID(), signer)
	}
}

// PublishRoot signs the current root with its signers and appends the
// serialized result to SignedRoots. Root is the one role whose history the
// simulator must keep: a client recovering from an old trusted root walks
// forward one signed version at a time.
func (rs *RepositorySimulator) PublishRoot() {
	rs.MDRoot.ClearSignatures()
	for _, signer := range rs.Signers[metadata.ROOT] {
		if _, err := rs.MDRoot.Sign(signer); err != nil {
			log.Debugf("simulator: failed to sign root: %v", err)
		}
	}
	data, err := rs.MDRoot.ToBytes(false)
	if err != nil {
		log.Fatalf("simulator: failed to marshal root while publishing: %v", err)
	}
	rs.SignedRoots = append(rs.SignedRoots, data)
	log.Debugf("simulator: published root v%d", rs.MDRoot.Signed.Version)
}

// getDelegator returns the TargetsType a delegation is being added to or
// read from: the top-level targets role, or an already-registered delegate.
func (rs *RepositorySimulator) getDelegator(name string) *metadata.TargetsType {
	if name == metadata.TARGETS {
		return &rs.MDTargets.Signed
	}
	return &rs.MDDelegates[name].Signed
}

// AddTarget hashes data and records it as a target of role (the top-level
// "targets" role or an already-registered delegate), and caches the bytes
// so FetchTarget can serve them later.
func (rs *RepositorySimulator) AddTarget(role string, data []byte, path string) {
	targets := rs.getDelegator(role)
	tf, err := metadata.TargetFile().FromBytes(path, data, "sha256")
	if err != nil {
		log.Fatalf("simulator: failed to hash target %s: %v", path, err)
	}
	if targets.Targets == nil {
		targets.Targets = map[string]metadata.TargetFiles{}
	}
	targets.Targets[path] = *tf
	rs.TargetFiles[path] = RepositoryTarget{Data: data, TargetFile: tf}
}

// AddDelegation delegates role from delegatorName to a fresh key and
// registers the delegate's own (initially empty) Targets metadata.
func (rs *RepositorySimulator) AddDelegation(delegatorName string, role metadata.DelegatedRole, targets *metadata.Metadata[metadata.TargetsType]) {
	delegator := rs.getDelegator(delegatorName)
	if delegator.Delegations == nil {
		delegator.Delegations = &metadata.Delegations{
			Keys:  map[string]*metadata.Key{},
			Roles: []metadata.DelegatedRole{},
		}
	}
	delegator.Delegations.Roles = append(delegator.Delegations.Roles, role)

	pub, _, signer := CreateKey()
	key, err := metadata.KeyFromPublicKey(pub)
	if err != nil {
		log.Fatalf("simulator: key conversion failed delegating %s: %v", role.Name, err)
	}
	if err := delegator.AddKey(key, role.Name); err != nil {
		log.Debugf("simulator: failed to add delegation key for %s: %v", role.Name, err)
	}
	rs.AddSigner(role.Name, key.ID(), signer)
	rs.MDDelegates[role.Name] = targets
}

// allTargetsRoles yields (roleName, *Metadata[TargetsType]) for the
// top-level targets role and every registered delegate, the set
// UpdateSnapshot must record meta entries for.
func (rs *RepositorySimulator) allTargetsRoles() map[string]*metadata.Metadata[metadata.TargetsType] {
	all := map[string]*metadata.Metadata[metadata.TargetsType]{metadata.TARGETS: rs.MDTargets}
	for name, md := range rs.MDDelegates {
		all[name] = md
	}
	return all
}

func (rs *RepositorySimulator) computeHashesAndLength(role string) (metadata.Hashes, int64) {
	data, err := rs.FetchMetadata(role, -1)
	if err != nil {
		log.Debugf("simulator: failed to fetch %s while computing meta hashes: %v", role, err)
		return nil, 0
	}
	tf, err := metadata.TargetFile().FromBytes(role, data, "sha256")
	if err != nil {
		log.Debugf("simulator: failed to hash %s meta: %v", role, err)
		return nil, 0
	}
	return tf.Hashes, tf.Length
}

// UpdateTimestamp bumps the timestamp version and points it at the
// snapshot's current version.
func (rs *RepositorySimulator) UpdateTimestamp() {
	var hashes metadata.Hashes
	var length int64
	if rs.ComputeMetafileHashesAndLength {
		hashes, length = rs.computeHashesAndLength(metadata.SNAPSHOT)
	}
	rs.MDTimestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)] = metadata.MetaFiles{
		Length:  length,
		Hashes:  hashes,
		Version: rs.MDSnapshot.Signed.Version,
	}
	rs.MDTimestamp.Signed.Version++
}

// UpdateSnapshot records the current version of every targets-family role
// in the snapshot, bumps the snapshot version, then updates timestamp to
// match: the sequence every repository mutation that touches a
// targets-family role must end with.
func (rs *RepositorySimulator) UpdateSnapshot() {
	for roleName, md := range rs.allTargetsRoles() {
		var hashes metadata.Hashes
		var length int64
		if rs.ComputeMetafileHashesAndLength {
			hashes, length = rs.computeHashesAndLength(roleName)
		}
		rs.MDSnapshot.Signed.Meta[fmt.Sprintf("%s.json", roleName)] = metadata.MetaFiles{
			Length:  length,
			Hashes:  hashes,
			Version: md.Signed.Version,
		}
	}
	rs.MDSnapshot.Signed.Version++
	rs.UpdateTimestamp()
}

func signMetadata[T metadata.Roles](role string, md *metadata.Metadata[T], rs *RepositorySimulator) ([]byte, error) {
	md.ClearSignatures()
	for _, signer := range rs.Signers[role] {
		if _, err := md.Sign(signer); err != nil {
			return nil, fmt.Errorf("signing %s: %w", role, err)
		}
	}
	return md.ToBytes(false)
}

// FetchMetadata returns signed, serialized metadata for role. version <= 0
// requests the always-current, unversioned copy; a positive version is only
// meaningful for root, whose history is immutable once PublishRoot'd.
func (rs *RepositorySimulator) FetchMetadata(role string, version int) ([]byte, error) {
	if role == metadata.ROOT {
		if version <= 0 || version > len(rs.SignedRoots) {
			return nil, metadata.ErrNotFound{URL: fmt.Sprintf("%d.root.json", version)}
		}
		log.Debugf("simulator: served root v%d", version)
		return rs.SignedRoots[version-1], nil
	}
	switch role {
	case metadata.TIMESTAMP:
		return signMetadata(role, rs.MDTimestamp, rs)
	case metadata.SNAPSHOT:
		return signMetadata(role, rs.MDSnapshot, rs)
	case metadata.TARGETS:
		return signMetadata(role, rs.MDTargets, rs)
	default:
		md, ok := rs.MDDelegates[role]
		if !ok {
			return nil, metadata.ErrNotFound{URL: role}
		}
		return signMetadata(role, md, rs)
	}
}

// FetchTarget returns the bytes stored for targetPath, verifying
// hashPrefix against the target's hashes when one is given (as happens for
// a consistent-snapshot repository's hash-prefixed filenames).
func (rs *RepositorySimulator) FetchTarget(targetPath, hashPrefix string) ([]byte, error) {
	rt, ok := rs.TargetFiles[targetPath]
	if !ok {
		return nil, metadata.ErrNotFound{URL: targetPath}
	}
	if hashPrefix != "" {
		found := false
		for _, h := range rt.TargetFile.Hashes {
			if hex.EncodeToString(h) == hashPrefix {
				found = true
				break
			}
		}
		if !found {
			return nil, metadata.ErrLengthOrHashMismatch{Msg: fmt.Sprintf("hash prefix %s does not match target %s", hashPrefix, targetPath)}
		}
	}
	return rt.Data, nil
}

// fetchMetadataPath parses "<role>.json" or "<version>.<role>.json" (the
// only two shapes updater.Updater.downloadMetadata ever requests) and
// serves the corresponding role.
func (rs *RepositorySimulator) fetchMetadataPath(rel string) ([]byte, error) {
	name := strings.TrimSuffix(rel, ".json")
	role := name
	version := -1
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		if v, err := strconv.Atoi(name[:idx]); err == nil {
			version = v
			role = name[idx+1:]
		}
	}
	return rs.FetchMetadata(role, version)
}

// fetchTargetPath strips a consistent-snapshot hash prefix off the
// filename, if one is expected, before looking the target up by its
// original path.
func (rs *RepositorySimulator) fetchTargetPath(rel string) ([]byte, error) {
	if !rs.MDRoot.Signed.ConsistentSnapshot || !rs.PrefixTargetsWithHash {
		return rs.FetchTarget(rel, "")
	}
	dir, base := rel, ""
	if idx := strings.LastIndexByte(rel, '/'); idx >= 0 {
		dir, base = rel[:idx], rel[idx+1:]
	} else {
		base = rel
		dir = ""
	}
	prefix := ""
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		prefix, base = base[:idx], base[idx+1:]
	}
	path := base
	if dir != "" {
		path = dir + "/" + base
	}
	return rs.FetchTarget(path, prefix)
}

// DownloadFile implements fetcher.Fetcher: it resolves urlPath against the
// simulator's in-memory state rather than performing any real network I/O,
// enforcing maxLength the same way a real download would.
func (rs *RepositorySimulator) DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error) {
	var data []byte
	var err error
	switch {
	case strings.HasPrefix(urlPath, MetadataBaseURL):
		data, err = rs.fetchMetadataPath(strings.TrimPrefix(urlPath, MetadataBaseURL))
	case strings.HasPrefix(urlPath, TargetsBaseURL):
		data, err = rs.fetchTargetPath(strings.TrimPrefix(urlPath, TargetsBaseURL))
	default:
		return nil, metadata.ErrNotFound{URL: urlPath}
	}
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxLength {
		return nil, metadata.ErrOversized{URL: urlPath, MaxBytes: maxLength}
	}
	return data, nil
}
