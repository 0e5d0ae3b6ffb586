// Copyright 2022-2023 VMware, Inc.
//
// This product is licensed to you under the BSD-2 license (the "License").
// You may not use this product except in compliance with the BSD-2 License.
// This product may include a number of subcomponents with separate copyright
// notices and license terms. Your use of these subcomponents is subject to
// the terms and conditions of the subcomponent's license, as noted in the
// LICENSE file.
//
// SPDX-License-Identifier: BSD-2-Clause

package metadata

import (
	"crypto"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEd25519Signer(t *testing.T) (*Key, signature.Signer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	require.NoError(t, err)
	key, err := KeyFromPublicKey(pub)
	require.NoError(t, err)
	return key, signer
}

func TestRootSignAndVerifyDelegate(t *testing.T) {
	root := Root(time.Now().AddDate(0, 0, 1))
	key, signer := newEd25519Signer(t)
	require.NoError(t, root.Signed.AddKey(key, TARGETS))

	targets := Targets(time.Now().AddDate(0, 0, 1))
	_, err := targets.Sign(signer)
	require.NoError(t, err)

	err = root.VerifyDelegate(TARGETS, targets)
	assert.NoError(t, err)
}

func TestVerifyDelegateFailsBelowThreshold(t *testing.T) {
	root := Root(time.Now().AddDate(0, 0, 1))
	root.Signed.Roles[TARGETS].Threshold = 2

	key1, signer1 := newEd25519Signer(t)
	require.NoError(t, root.Signed.AddKey(key1, TARGETS))

	targets := Targets(time.Now().AddDate(0, 0, 1))
	_, err := targets.Sign(signer1)
	require.NoError(t, err)

	err = root.VerifyDelegate(TARGETS, targets)
	require.Error(t, err)
	var thresholdErr ErrThreshold
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, 1, thresholdErr.Got)
	assert.Equal(t, 2, thresholdErr.Wanted)
}

// TestVerifyDelegateDedupesRepeatedKeyID guards against CVE-2020-15093: a
// role whose key list names the same physical key twice must not be able to
// satisfy a threshold of 2 using only one signature from that key.
func TestVerifyDelegateDedupesRepeatedKeyID(t *testing.T) {
	root := Root(time.Now().AddDate(0, 0, 1))
	root.Signed.Roles[TARGETS].Threshold = 2

	key1, signer1 := newEd25519Signer(t)
	require.NoError(t, root.Signed.AddKey(key1, TARGETS))
	// duplicate the same keyID into the role's keyids list directly, since
	// AddKey already dedupes and we need to force the pre-fix shape.
	root.Signed.Roles[TARGETS].KeyIDs = append(root.Signed.Roles[TARGETS].KeyIDs, key1.ID())

	targets := Targets(time.Now().AddDate(0, 0, 1))
	_, err := targets.Sign(signer1)
	require.NoError(t, err)

	err = root.VerifyDelegate(TARGETS, targets)
	require.Error(t, err)
	var thresholdErr ErrThreshold
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, 1, thresholdErr.Got)
	assert.Equal(t, 2, thresholdErr.Wanted)
}

func TestVerifyDelegateNoDelegationFound(t *testing.T) {
	root := Root()
	targets := Targets()
	err := root.VerifyDelegate("nonexistent", targets)
	require.Error(t, err)
	var valueErr ErrValue
	assert.ErrorAs(t, err, &valueErr)
}

func TestRootRoundTripPreservesUnrecognizedFields(t *testing.T) {
	root := Root(time.Now().AddDate(0, 0, 1).Truncate(time.Second))
	root.Signed.UnrecognizedFields = map[string]any{"x-custom": "value"}

	data, err := root.ToBytes(false)
	require.NoError(t, err)

	restored := &Metadata[RootType]{}
	_, err = restored.FromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "value", restored.Signed.UnrecognizedFields["x-custom"])
	assert.Equal(t, root.Signed.Version, restored.Signed.Version)
	assert.True(t, root.Signed.Expires.Equal(restored.Signed.Expires))
}

func TestRoleUnmarshalRejectsZeroThreshold(t *testing.T) {
	broken := []byte(`{"signed":{"_type":"root","spec_version":"1.0.31","version":1,"expires":"2099-01-01T00:00:00Z","consistent_snapshot":true,"keys":{},"roles":{"root":{"keyids":[],"threshold":0},"snapshot":{"keyids":[],"threshold":1},"targets":{"keyids":[],"threshold":1},"timestamp":{"keyids":[],"threshold":1}}},"signatures":[]}`)
	restored := &Metadata[RootType]{}
	_, err := restored.FromBytes(broken)
	require.Error(t, err)
}

func TestTargetFilesVerifyLengthHashes(t *testing.T) {
	data := []byte("hello world")
	tf, err := (&TargetFiles{}).FromBytes("dir/file.txt", data, "sha256", "sha512")
	require.NoError(t, err)

	assert.NoError(t, tf.VerifyLengthHashes(data))
	assert.Error(t, tf.VerifyLengthHashes([]byte("tampered")))
}

func TestClearSignatures(t *testing.T) {
	_, signer := newEd25519Signer(t)
	targets := Targets()
	_, err := targets.Sign(signer)
	require.NoError(t, err)
	assert.Len(t, targets.Signatures, 1)

	targets.ClearSignatures()
	assert.Empty(t, targets.Signatures)
}

func TestRootAddAndRevokeKey(t *testing.T) {
	root := Root()
	key, _ := newEd25519Signer(t)
	require.NoError(t, root.Signed.AddKey(key, ROOT))
	assert.Contains(t, root.Signed.Roles[ROOT].KeyIDs, key.ID())
	assert.Contains(t, root.Signed.Keys, key.ID())

	require.NoError(t, root.Signed.RevokeKey(key.ID(), ROOT))
	assert.NotContains(t, root.Signed.Roles[ROOT].KeyIDs, key.ID())
	assert.NotContains(t, root.Signed.Keys, key.ID())
}

func TestRootAddKeyUnknownRole(t *testing.T) {
	root := Root()
	key, _ := newEd25519Signer(t)
	err := root.Signed.AddKey(key, "not-a-role")
	require.Error(t, err)
	var valueErr ErrValue
	assert.ErrorAs(t, err, &valueErr)
}

func TestTargetsAddKeyRequiresExistingDelegation(t *testing.T) {
	targets := Targets()
	key, _ := newEd25519Signer(t)
	err := targets.Signed.AddKey(key, "team-a")
	require.Error(t, err)
	var valueErr ErrValue
	assert.ErrorAs(t, err, &valueErr)

	targets.Signed.Delegations = &Delegations{
		Keys:  map[string]*Key{},
		Roles: []DelegatedRole{{Name: "team-a", KeyIDs: []string{}, Threshold: 1, Paths: []string{"*"}}},
	}
	require.NoError(t, targets.Signed.AddKey(key, "team-a"))
	assert.Contains(t, targets.Signed.Delegations.Roles[0].KeyIDs, key.ID())
}

func TestValidateTargetPathAcceptsOrdinaryPaths(t *testing.T) {
	assert.NoError(t, ValidateTargetPath("dir/file.txt"))
	assert.NoError(t, ValidateTargetPath("file.txt"))
}

func TestValidateTargetPathRejectsTraversalAndAbsolute(t *testing.T) {
	cases := []string{"", "/etc/passwd", "../escape.txt", "dir/../../escape.txt", "dir/./file.txt", `dir\file.txt`}
	for _, c := range cases {
		err := ValidateTargetPath(c)
		require.Error(t, err, "expected error for %q", c)
		var traversal ErrPathTraversal
		assert.ErrorAs(t, err, &traversal, "expected ErrPathTraversal for %q", c)
	}
}
