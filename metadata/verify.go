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
	"bytes"
	"crypto"
	"crypto/rsa"

	"github.com/sigstore/sigstore/pkg/signature"
)

// verifyRSAPSSCompat verifies sig over payload. For a non-RSA key it uses
// verifier; for an RSA key it checks RSASSA-PSS with SHA-256 (the
// rsassa-pss-sha256 scheme) whatever verifier is passed, tolerating the
// short RSA-PSS signature encoding some KMS signing backends emit: a
// signature a few bytes shorter than the modulus size because the backend
// strips leading zero bytes before returning the signature. AWS KMS is known
// to do this for 2048/3072/4096-bit RSA-PSS keys (see tough-kms's handling of
// the same quirk). A short signature is left-zero-padded to the modulus size
// and re-verified before giving up.
func verifyRSAPSSCompat(verifier signature.Verifier, pub crypto.PublicKey, sig []byte, payload []byte) error {
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(payload))
	}
	// signature.LoadVerifier builds a PKCS#1 v1.5 verifier for RSA keys
	pss, err := signature.LoadRSAPSSVerifier(rsaKey, crypto.SHA256, &rsa.PSSOptions{Hash: crypto.SHA256})
	if err != nil {
		return err
	}
	err = pss.VerifySignature(bytes.NewReader(sig), bytes.NewReader(payload))
	if err == nil {
		return nil
	}
	modLen := (rsaKey.N.BitLen() + 7) / 8
	if len(sig) >= modLen {
		return err
	}
	padded := make([]byte, modLen)
	copy(padded[modLen-len(sig):], sig)
	return pss.VerifySignature(bytes.NewReader(padded), bytes.NewReader(payload))
}
