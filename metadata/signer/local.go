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

package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/trustedupdates/tufcore/metadata"
)

// LocalFile is a KeySource backed by a PEM-encoded private key on disk, one
// of PKCS#8 ("PRIVATE KEY"), PKCS#1 ("RSA PRIVATE KEY") or SEC1
// ("EC PRIVATE KEY"). Ed25519 keys are read from PKCS#8; a raw Ed25519 seed
// is not accepted.
type LocalFile struct {
	Path string

	priv crypto.Signer
}

var _ KeySource = (*LocalFile)(nil)

// NewLocalFile reads and parses the private key at path eagerly, so a
// misconfigured --key flag fails at startup rather than at the first sign.
func NewLocalFile(path string) (*LocalFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "file", Msg: err.Error()}
	}
	priv, err := parsePrivateKeyPEM(raw)
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "file", Msg: err.Error()}
	}
	return &LocalFile{Path: path, priv: priv}, nil
}

func parsePrivateKeyPEM(raw []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", "key file")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key of type %T is not a crypto.Signer", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// PublicKey returns the metadata.Key form of the local key's public half.
func (l *LocalFile) PublicKey() (*metadata.Key, error) {
	return metadata.KeyFromPublicKey(l.priv.Public())
}

// Sign signs msg (the canonical JSON encoding of a role's signed body) with
// the local private key, using the scheme implied by the key type:
// RSA-PSS/SHA-256, ECDSA/SHA-256, or Ed25519 (which signs the raw message,
// never a digest).
func (l *LocalFile) Sign(_ context.Context, msg []byte) ([]byte, error) {
	switch k := l.priv.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, msg), nil
	case *rsa.PrivateKey:
		digest := sha256Sum(msg)
		return rsa.SignPSS(rand.Reader, k, crypto.SHA256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	case *ecdsa.PrivateKey:
		digest := sha256Sum(msg)
		return ecdsa.SignASN1(rand.Reader, k, digest)
	default:
		return nil, metadata.ErrSigner{Backend: "file", Msg: fmt.Sprintf("unsupported key type %T", k)}
	}
}
