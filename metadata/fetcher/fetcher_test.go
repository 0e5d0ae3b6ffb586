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

package fetcher

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/config"
)

func testPolicy() config.RetryPolicy {
	p := config.New().Retry
	p.InitialBackoffMs = 1
	p.MaxBackoffMs = 5
	return p
}

func TestDownloadFileHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := NewDefaultFetcher(testPolicy())
	data, err := f.DownloadFile(srv.URL, 1024, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownloadFileRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("eventually ok"))
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.MaxAttempts = 5
	f := NewDefaultFetcher(policy)
	data, err := f.DownloadFile(srv.URL, 1024, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "eventually ok", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDownloadFileExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.MaxAttempts = 2
	f := NewDefaultFetcher(policy)
	_, err := f.DownloadFile(srv.URL, 1024, 5*time.Second)
	assert.Error(t, err)
}

func TestDownloadFileNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewDefaultFetcher(testPolicy())
	_, err := f.DownloadFile(srv.URL, 1024, 5*time.Second)
	require.Error(t, err)
	var notFound metadata.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestDownloadFileOversizedByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "9999")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := NewDefaultFetcher(testPolicy())
	_, err := f.DownloadFile(srv.URL, 10, 5*time.Second)
	require.Error(t, err)
	var oversized metadata.ErrOversized
	assert.ErrorAs(t, err, &oversized)
}

func TestDownloadFileOversizedByBodyLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := NewDefaultFetcher(testPolicy())
	_, err := f.DownloadFile(srv.URL, 10, 5*time.Second)
	require.Error(t, err)
	var oversized metadata.ErrOversized
	assert.ErrorAs(t, err, &oversized)
}

// TestDownloadFileResumesPartialReadViaRange exercises retry_on_partial_read:
// the first connection is hijacked and closed mid-body to simulate a dropped
// connection, forcing the client to resume with a Range request for the
// remaining bytes.
func TestDownloadFileResumesPartialReadViaRange(t *testing.T) {
	const full = "0123456789ABCDEFGHIJ"
	const firstHalf = "0123456789"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			w.Header().Set("Content-Range", "bytes 10-19/20")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(full[10:]))
			return
		}

		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("httptest ResponseWriter does not support hijacking")
		}
		conn, bufrw, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		defer conn.Close()
		_, _ = bufrw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 20\r\n\r\n" + firstHalf)
		_ = bufrw.Flush()
		// drop the connection without writing the remaining 10 bytes.
	}))
	defer srv.Close()

	policy := testPolicy()
	f := NewDefaultFetcher(policy)
	data, err := f.DownloadFile(srv.URL, 1024, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, full, string(data))
}

func TestFileFetcherDownloadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hello":"world"}`), 0644))

	var ff FileFetcher
	data, err := ff.DownloadFile("file://"+path, 1024, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(data))
}

func TestFileFetcherNotFound(t *testing.T) {
	var ff FileFetcher
	_, err := ff.DownloadFile("file:///no/such/path.json", 1024, 0)
	require.Error(t, err)
	var notFound metadata.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestFileFetcherOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))

	var ff FileFetcher
	_, err := ff.DownloadFile("file://"+path, 10, 0)
	require.Error(t, err)
	var oversized metadata.ErrOversized
	assert.ErrorAs(t, err, &oversized)
}
