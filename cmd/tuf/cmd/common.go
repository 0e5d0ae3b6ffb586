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

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

// usageError marks a flag/argument problem that should exit 2, as opposed
// to a verification failure (1) or an I/O/transport failure (3).
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func errUsage(format string, a ...any) error {
	return usageError{msg: fmt.Sprintf(format, a...)}
}

// exitCode classifies an error into the CLI's three failure exit codes.
func exitCode(err error) int {
	var u usageError
	if errors.As(err, &u) {
		return 2
	}
	var (
		unsigned  metadata.ErrUnsignedMetadata
		threshold metadata.ErrThreshold
		rollback  metadata.ErrRollback
		expired   metadata.ErrExpiredMetadata
		lenHash   metadata.ErrLengthOrHashMismatch
		integrity metadata.ErrTargetIntegrity
		cycle     metadata.ErrDelegationCycle
		unauth    metadata.ErrDelegationUnauthorized
		traversal metadata.ErrPathTraversal
		badVer    metadata.ErrBadVersionNumber
		eqVer     metadata.ErrEqualVersionNumber
	)
	switch {
	case errors.As(err, &unsigned), errors.As(err, &threshold), errors.As(err, &rollback),
		errors.As(err, &expired), errors.As(err, &lenHash), errors.As(err, &integrity),
		errors.As(err, &cycle), errors.As(err, &unauth), errors.As(err, &traversal),
		errors.As(err, &badVer), errors.As(err, &eqVer):
		return 1
	}
	var (
		download metadata.ErrDownload
		dlLen    metadata.ErrDownloadLengthMismatch
		dlHTTP   metadata.ErrDownloadHTTP
		oversize metadata.ErrOversized
		notFound metadata.ErrNotFound
	)
	switch {
	case errors.As(err, &download), errors.As(err, &dlLen), errors.As(err, &dlHTTP),
		errors.As(err, &oversize), errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		return 3
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return 3
	}
	return 1
}

// parseKeys resolves each --key flag value into a KeySource.
func parseKeys(raw []string) ([]signer.KeySource, error) {
	if len(raw) == 0 {
		return nil, errUsage("at least one --key is required")
	}
	keys := make([]signer.KeySource, 0, len(raw))
	for _, r := range raw {
		k, err := signer.ParseSource(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// parseExpires accepts an RFC 3339 timestamp or a relative "in N unit"
// expression (unit one of day(s)/week(s)/month(s)/year(s)), matching the
// CLI surface's `--expires <rfc3339 | "in N units">` contract.
func parseExpires(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errUsage("--expires is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 3 && fields[0] == "in" {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return time.Time{}, errUsage("invalid --expires %q: %s", raw, err)
		}
		now := time.Now().UTC()
		switch strings.TrimSuffix(strings.ToLower(fields[2]), "s") {
		case "day":
			return now.AddDate(0, 0, n), nil
		case "week":
			return now.AddDate(0, 0, 7*n), nil
		case "month":
			return now.AddDate(0, n, 0), nil
		case "year":
			return now.AddDate(n, 0, 0), nil
		}
		return time.Time{}, errUsage("invalid --expires unit in %q: want day(s)/week(s)/month(s)/year(s)", raw)
	}
	return time.Time{}, errUsage("invalid --expires %q: want RFC3339 or \"in N units\"", raw)
}

// readFile reads the content of a file and returns its bytes.
func readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return data, nil
}
