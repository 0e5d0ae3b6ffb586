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
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/trustedupdates/tufcore/metadata"
)

// KMS is a KeySource backed by an asymmetric RSA key held in AWS KMS,
// grounded on tough-kms's client: it signs a SHA-256 digest remotely with
// RSASSA_PSS_SHA_256 and left-zero-pads a short response to the modulus
// size, the same quirk metadata/verify.go's verifyRSAPSSCompat tolerates on
// the read side.
type KMS struct {
	KeyID   string
	Profile string

	client *kms.Client
	pub    *metadata.Key
	modLen int
}

var _ KeySource = (*KMS)(nil)

// NewKMS builds a KMS-backed KeySource. The client is constructed lazily
// from the default AWS credential chain (optionally scoped to Profile,
// which also drives source_profile/credential_process resolution) on first
// use, so constructing a KMS value never makes a network call.
func NewKMS(keyID, profile string) *KMS {
	return &KMS{KeyID: keyID, Profile: profile}
}

func (k *KMS) ensureClient(ctx context.Context) error {
	if k.client != nil {
		return nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if k.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(k.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return metadata.ErrSigner{Backend: "aws-kms", Msg: err.Error()}
	}
	k.client = kms.NewFromConfig(cfg)
	return nil
}

// PublicKey fetches (and caches) the KMS key's public half and the modulus
// size needed to pad short signatures.
func (k *KMS) PublicKey() (*metadata.Key, error) {
	if k.pub != nil {
		return k.pub, nil
	}
	ctx := context.Background()
	if err := k.ensureClient(ctx); err != nil {
		return nil, err
	}
	resp, err := k.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(k.KeyID)})
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "aws-kms", Msg: fmt.Sprintf("GetPublicKey %s: %s", k.KeyID, err)}
	}
	rsaPub, err := parseKMSPublicKey(resp.PublicKey)
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "aws-kms", Msg: err.Error()}
	}
	key, err := metadata.KeyFromPublicKey(rsaPub)
	if err != nil {
		return nil, err
	}
	modLen, err := modulusLengthBytes(string(resp.KeySpec))
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "aws-kms", Msg: err.Error()}
	}
	k.modLen = modLen
	k.pub = key
	return key, nil
}

// Sign signs msg's SHA-256 digest remotely, requiring RSASSA_PSS_SHA_256 per
// §4.2's verifier capability set, then left-zero-pads a short response.
func (k *KMS) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if err := k.ensureClient(ctx); err != nil {
		return nil, err
	}
	if k.pub == nil {
		if _, err := k.PublicKey(); err != nil {
			return nil, err
		}
	}
	digest := sha256Sum(msg)
	resp, err := k.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(k.KeyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPssSha256,
	})
	if err != nil {
		return nil, metadata.ErrSigner{Backend: "aws-kms", Msg: fmt.Sprintf("Sign %s: %s", k.KeyID, err)}
	}
	return padSignature(resp.Signature, k.modLen), nil
}

// padSignature left-zero-pads sig to modLen bytes if it is shorter, the
// observed behavior of AWS KMS for some RSA-PSS signature lengths.
func padSignature(sig []byte, modLen int) []byte {
	if modLen <= 0 || len(sig) >= modLen {
		return sig
	}
	padded := make([]byte, modLen)
	copy(padded[modLen-len(sig):], sig)
	return padded
}

func modulusLengthBytes(spec string) (int, error) {
	if !strings.HasPrefix(spec, "RSA_") {
		return 0, fmt.Errorf("unsupported KMS key spec %q: only RSA_* is supported", spec)
	}
	bits, err := strconv.Atoi(strings.TrimPrefix(spec, "RSA_"))
	if err != nil {
		return 0, fmt.Errorf("unsupported KMS key spec %q: %w", spec, err)
	}
	if bits%8 != 0 {
		return 0, fmt.Errorf("unsupported KMS key spec %q: modulus not byte-aligned", spec)
	}
	return bits / 8, nil
}

func parseKMSPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("KMS key is not an RSA public key (got %T)", pub)
	}
	return rsaPub, nil
}
