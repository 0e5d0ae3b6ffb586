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

// Package signer provides pluggable signing backends for TUF metadata: a
// local PEM file, AWS KMS, and AWS SSM Parameter Store. Each implements
// KeySource; metadata.Metadata.Sign and metadata/editor drive them by that
// interface alone, so a role's keys can live on disk for one signer and in
// KMS for the next without either caller changing.
package signer

import (
	"context"

	"github.com/trustedupdates/tufcore/metadata"
)

// KeySource produces the public key a role identifies a signer by, and
// signs an already-canonicalized payload with the corresponding private
// key. Sign takes a context because a remote backend (KMS, SSM) makes a
// network call and the caller may want to bound or cancel it.
type KeySource interface {
	PublicKey() (*metadata.Key, error)
	Sign(ctx context.Context, msg []byte) ([]byte, error)
}
