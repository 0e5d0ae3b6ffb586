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

// Package canonicaljson implements the OLPC canonical JSON encoding used as
// the signing pre-image for all TUF metadata. It is a thin, named wrapper
// around go-securesystemslib/cjson so that the rest of the module depends on
// a stable local symbol rather than reaching for the vendored encoder
// directly from a dozen call sites.
package canonicaljson

import (
	"encoding/json"
	"fmt"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
)

// ErrNonCanonicalizable is returned when v contains a non-integer number or
// a value encoding/json cannot marshal. Strings that are not valid UTF-8 are
// not rejected (encoding/json replaces the bad bytes with U+FFFD), and
// integer map keys are encoded as strings rather than rejected.
type ErrNonCanonicalizable struct {
	Cause error
}

func (e ErrNonCanonicalizable) Error() string {
	return fmt.Sprintf("canonicaljson: value cannot be canonicalized: %s", e.Cause)
}

func (e ErrNonCanonicalizable) Unwrap() error {
	return e.Cause
}

// Encode returns the canonical JSON encoding of v: UTF-8, no insignificant
// whitespace, object keys sorted, minimal string escaping, integers only.
func Encode(v any) ([]byte, error) {
	b, err := cjson.EncodeCanonical(v)
	if err != nil {
		return nil, ErrNonCanonicalizable{Cause: err}
	}
	return b, nil
}

// Decode parses canonical (or any valid) JSON bytes into a generic value,
// used by callers that want to round-trip canonicalized output back into Go
// values (e.g. to assert P1: parse(canonicalize(v)) == v).
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
