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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Sum(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}

func TestVerifyRSAPSSCompatFullLengthSignature(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := signature.LoadVerifier(&priv.PublicKey, crypto.SHA256)
	require.NoError(t, err)

	payload := []byte("tuf metadata payload")
	digest := sha256Sum(payload)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	require.NoError(t, err)

	assert.NoError(t, verifyRSAPSSCompat(verifier, &priv.PublicKey, sig, payload))
}

func TestVerifyRSAPSSCompatRejectsWrongPayload(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := signature.LoadVerifier(&priv.PublicKey, crypto.SHA256)
	require.NoError(t, err)

	payload := []byte("tuf metadata payload")
	digest := sha256Sum(payload)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	require.NoError(t, err)

	err = verifyRSAPSSCompat(verifier, &priv.PublicKey, sig, []byte("a different payload"))
	assert.Error(t, err)
}

// TestVerifyRSAPSSCompatAcceptsLeftZeroStrippedSignature guards the AWS
// KMS-style short-signature encoding: a signature that some backend returned
// with its leading zero byte(s) stripped must still verify once this helper
// left-zero-pads it back to the modulus size. Go's own rsa.SignPSS always
// returns a full modulus-length signature, so a naturally short one is
// reproduced here by generating signatures over varying payloads until one
// happens to start with a zero byte, then stripping it before verifying.
func TestVerifyRSAPSSCompatAcceptsLeftZeroStrippedSignature(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := signature.LoadVerifier(&priv.PublicKey, crypto.SHA256)
	require.NoError(t, err)

	var payload, fullSig []byte
	found := false
	for i := 0; i < 2000; i++ {
		payload = []byte(fmt.Sprintf("tuf metadata payload #%d", i))
		digest := sha256Sum(payload)
		sig, signErr := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
		require.NoError(t, signErr)
		if sig[0] == 0x00 {
			fullSig = sig
			found = true
			break
		}
	}
	require.True(t, found, "did not find a naturally left-zero-padded signature in 2000 attempts")

	shortSig := fullSig[1:]
	assert.NoError(t, verifyRSAPSSCompat(verifier, &priv.PublicKey, shortSig, payload))
}

func TestVerifyRSAPSSCompatNonRSAKeyReturnsOriginalError(t *testing.T) {
	key, signer := newEd25519Signer(t)
	pub, err := key.ToPublicKey()
	require.NoError(t, err)
	verifier, err := signature.LoadVerifier(pub, crypto.Hash(0))
	require.NoError(t, err)

	err = verifyRSAPSSCompat(verifier, pub, []byte("not a real signature"), []byte("payload"))
	assert.Error(t, err)
	_ = signer
}
