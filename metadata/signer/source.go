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
	"fmt"
	"net/url"
	"strings"

	"github.com/trustedupdates/tufcore/metadata"
)

// ParseSource parses a `--key` command-line argument into a KeySource.
// Supported forms, matching the CLI surface's "one of file path,
// aws-kms://, aws-ssm://" contract:
//
//	./a/key/file          -- local PEM file, relative or absolute path
//	file:///a/key/file     -- local PEM file, explicit scheme
//	aws-kms://<profile>/<key-id>    -- AWS KMS, profile optional ("aws-kms:///key-id")
//	aws-ssm://<profile>/<parameter> -- AWS SSM, profile optional
func ParseSource(raw string) (KeySource, error) {
	switch {
	case strings.HasPrefix(raw, "file://"):
		return NewLocalFile(strings.TrimPrefix(raw, "file://"))
	case strings.HasPrefix(raw, "aws-kms://"), strings.HasPrefix(raw, "aws-ssm://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, metadata.ErrSigner{Backend: "source", Msg: fmt.Sprintf("parsing %q: %s", raw, err)}
		}
		profile := u.Host
		id := strings.TrimPrefix(u.Path, "/")
		if id == "" {
			return nil, metadata.ErrSigner{Backend: "source", Msg: fmt.Sprintf("%q is missing a key/parameter name", raw)}
		}
		switch u.Scheme {
		case "aws-kms":
			return NewKMS(id, profile), nil
		case "aws-ssm":
			return NewSSM(id, profile), nil
		}
		return nil, metadata.ErrSigner{Backend: "source", Msg: fmt.Sprintf("unrecognized scheme %q", u.Scheme)}
	default:
		return NewLocalFile(raw)
	}
}
