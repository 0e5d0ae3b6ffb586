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
	"fmt"
)

// Define TUF error types. Names start with 'Err'. Each error carries enough
// context (role, file, version, url) to be useful once it crosses a public
// surface, per the propagation rule in the error handling design.

// ErrRepository is the root of the repository-error family: anything wrong
// with a repository's state as observed by a client or editor.
type ErrRepository struct {
	Msg string
}

func (e ErrRepository) Error() string {
	return fmt.Sprintf("repository error: %s", e.Msg)
}

// ErrUnsignedMetadata - an object with insufficient valid signatures for its threshold.
type ErrUnsignedMetadata struct {
	Role string
	Msg  string
}

func (e ErrUnsignedMetadata) Error() string {
	return fmt.Sprintf("unsigned metadata error: role %s: %s", e.Role, e.Msg)
}

func (e ErrUnsignedMetadata) Is(target error) bool {
	switch target.(type) {
	case ErrUnsignedMetadata, ErrRepository:
		return true
	}
	return false
}

// ErrThreshold - signatures were present but fewer distinct keyids than threshold validated.
type ErrThreshold struct {
	Role   string
	Got    int
	Wanted int
}

func (e ErrThreshold) Error() string {
	return fmt.Sprintf("threshold error: role %s: got %d valid signatures, want %d", e.Role, e.Got, e.Wanted)
}

func (e ErrThreshold) Is(target error) bool {
	switch target.(type) {
	case ErrThreshold, ErrUnsignedMetadata, ErrRepository:
		return true
	}
	return false
}

// ErrBadVersionNumber - metadata with an invalid (non-monotonic) version number.
type ErrBadVersionNumber struct {
	Role string
	Msg  string
}

func (e ErrBadVersionNumber) Error() string {
	return fmt.Sprintf("bad version number error: role %s: %s", e.Role, e.Msg)
}

func (e ErrBadVersionNumber) Is(target error) bool {
	switch target.(type) {
	case ErrBadVersionNumber, ErrRepository:
		return true
	}
	return false
}

// ErrRollback - a version regression in root/timestamp/snapshot/delegated metadata.
type ErrRollback struct {
	Role    string
	Current int64
	New     int64
}

func (e ErrRollback) Error() string {
	return fmt.Sprintf("rollback error: role %s: current version %d, offered version %d", e.Role, e.Current, e.New)
}

func (e ErrRollback) Is(target error) bool {
	switch target.(type) {
	case ErrRollback, ErrBadVersionNumber, ErrRepository:
		return true
	}
	return false
}

// ErrEqualVersionNumber - metadata containing a previously verified version number.
type ErrEqualVersionNumber struct {
	Role    string
	Version int64
}

func (e ErrEqualVersionNumber) Error() string {
	return fmt.Sprintf("equal version number error: role %s: version %d already trusted", e.Role, e.Version)
}

func (e ErrEqualVersionNumber) Is(target error) bool {
	switch target.(type) {
	case ErrEqualVersionNumber, ErrBadVersionNumber, ErrRepository:
		return true
	}
	return false
}

// ErrExpiredMetadata - a TUF metadata file has expired.
type ErrExpiredMetadata struct {
	Role    string
	Expires string
}

func (e ErrExpiredMetadata) Error() string {
	return fmt.Sprintf("expired metadata error: role %s expired at %s", e.Role, e.Expires)
}

func (e ErrExpiredMetadata) Is(target error) bool {
	switch target.(type) {
	case ErrExpiredMetadata, ErrRepository:
		return true
	}
	return false
}

// ErrLengthOrHashMismatch - declared length/hash does not match observed content.
type ErrLengthOrHashMismatch struct {
	Msg string
}

func (e ErrLengthOrHashMismatch) Error() string {
	return fmt.Sprintf("length/hash verification error: %s", e.Msg)
}

func (e ErrLengthOrHashMismatch) Is(target error) bool {
	switch target.(type) {
	case ErrLengthOrHashMismatch, ErrRepository:
		return true
	}
	return false
}

// ErrTargetIntegrity - a downloaded target's bytes do not match its declared metadata.
type ErrTargetIntegrity struct {
	Path string
	Msg  string
}

func (e ErrTargetIntegrity) Error() string {
	return fmt.Sprintf("target integrity error: %s: %s", e.Path, e.Msg)
}

func (e ErrTargetIntegrity) Is(target error) bool {
	switch target.(type) {
	case ErrTargetIntegrity, ErrLengthOrHashMismatch:
		return true
	}
	return false
}

// ErrDelegationCycle - traversal reached a role name it had already visited
// in the same walk.
type ErrDelegationCycle struct {
	Role string
}

func (e ErrDelegationCycle) Error() string {
	return fmt.Sprintf("delegation cycle error: role %s visited more than once", e.Role)
}

// ErrDelegationUnauthorized - a role was reached whose paths/path_hash_prefixes
// do not cover the requested target path.
type ErrDelegationUnauthorized struct {
	Role string
	Path string
}

func (e ErrDelegationUnauthorized) Error() string {
	return fmt.Sprintf("delegation unauthorized error: role %s has no authority over %s", e.Role, e.Path)
}

// ErrPathTraversal - an unsafe target or role filename.
type ErrPathTraversal struct {
	Path string
}

func (e ErrPathTraversal) Error() string {
	return fmt.Sprintf("path traversal error: unsafe path %q", e.Path)
}

// Download / transport errors

// ErrDownload - an error occurred while attempting to download a file.
type ErrDownload struct {
	Msg string
}

func (e ErrDownload) Error() string {
	return fmt.Sprintf("download error: %s", e.Msg)
}

// ErrDownloadLengthMismatch - a mismatch of lengths was seen while downloading a file.
type ErrDownloadLengthMismatch struct {
	Msg string
}

func (e ErrDownloadLengthMismatch) Error() string {
	return fmt.Sprintf("download length mismatch error: %s", e.Msg)
}

func (e ErrDownloadLengthMismatch) Is(target error) bool {
	switch target.(type) {
	case ErrDownloadLengthMismatch, ErrDownload:
		return true
	}
	return false
}

// ErrDownloadHTTP - returned by Fetcher implementations for non-2xx HTTP responses.
type ErrDownloadHTTP struct {
	StatusCode int
	URL        string
}

func (e ErrDownloadHTTP) Error() string {
	return fmt.Sprintf("failed to download %s, http status code: %d", e.URL, e.StatusCode)
}

func (e ErrDownloadHTTP) Is(target error) bool {
	switch target.(type) {
	case ErrDownloadHTTP, ErrDownload:
		return true
	}
	return false
}

// ErrNotFound - the remote resource does not exist (HTTP 404 or equivalent).
type ErrNotFound struct {
	URL string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

func (e ErrNotFound) Is(target error) bool {
	switch target.(type) {
	case ErrNotFound, ErrDownload:
		return true
	}
	return false
}

// ErrOversized - the fetch exceeded its configured max_bytes bound.
type ErrOversized struct {
	URL      string
	MaxBytes int64
}

func (e ErrOversized) Error() string {
	return fmt.Sprintf("oversized response from %s: exceeds %d byte bound", e.URL, e.MaxBytes)
}

func (e ErrOversized) Is(target error) bool {
	switch target.(type) {
	case ErrOversized, ErrDownload:
		return true
	}
	return false
}

// ErrSigner - the remote signing backend is unavailable or rejected a key.
type ErrSigner struct {
	Backend string
	Msg     string
}

func (e ErrSigner) Error() string {
	return fmt.Sprintf("signer error: %s: %s", e.Backend, e.Msg)
}

// Generic catch-alls kept from the teacher for malformed input that doesn't
// fit a more specific category above.

// ErrValue - a value is malformed or out of its allowed domain.
type ErrValue struct {
	Msg string
}

func (e ErrValue) Error() string {
	return fmt.Sprintf("value error: %s", e.Msg)
}

// ErrType - a value has the wrong Go/metadata type for the operation.
type ErrType struct {
	Msg string
}

func (e ErrType) Error() string {
	return fmt.Sprintf("type error: %s", e.Msg)
}

// ErrRuntime - an invariant the caller could not have avoided was violated.
type ErrRuntime struct {
	Msg string
}

func (e ErrRuntime) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Msg)
}
