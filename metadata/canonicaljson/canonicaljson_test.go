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

package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSortsKeys(t *testing.T) {
	v := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mike":  3,
	}
	b, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mike":3,"zebra":1}`, string(b))
}

func TestEncodeIsDeterministic(t *testing.T) {
	v := map[string]any{"b": []any{1, 2, 3}, "a": "hello"}
	first, err := Encode(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeNoInsignificantWhitespace(t *testing.T) {
	b, err := Encode(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.NotContains(t, string(b), " ")
	assert.NotContains(t, string(b), "\n")
	assert.NotContains(t, string(b), "\t")
}

func TestEncodeRejectsFloats(t *testing.T) {
	_, err := Encode(map[string]any{"a": 1.5})
	require.Error(t, err)
	var target ErrNonCanonicalizable
	assert.ErrorAs(t, err, &target)
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	v := map[string]any{
		"name":    "root",
		"version": float64(3),
		"nested":  map[string]any{"x": float64(1)},
		"list":    []any{float64(1), float64(2), float64(3)},
	}
	b, err := Encode(v)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestErrNonCanonicalizableUnwrap(t *testing.T) {
	_, err := Encode(map[string]any{"a": 1.5})
	require.Error(t, err)
	var target ErrNonCanonicalizable
	require.ErrorAs(t, err, &target)
	assert.NotNil(t, target.Unwrap())
}
