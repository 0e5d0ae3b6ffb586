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
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/config"
)

// Fetcher interface
type Fetcher interface {
	DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error)
}

// DefaultFetcher implements Fetcher over HTTP(S), retrying transient
// failures per a config.RetryPolicy via go-retryablehttp.
type DefaultFetcher struct {
	httpUserAgent string
	policy        config.RetryPolicy
	client        *retryablehttp.Client
}

// NewDefaultFetcher builds a DefaultFetcher whose underlying *http.Client is
// a retryablehttp client configured from policy: exponential backoff bounded
// by InitialBackoffMs/MaxBackoffMs/BackoffMultiplier, retrying only the
// connection-level errors and the status codes named in RetryableStatusSet.
func NewDefaultFetcher(policy config.RetryPolicy) *DefaultFetcher {
	retryable := map[int]bool{}
	for _, code := range policy.RetryableStatusSet {
		retryable[code] = true
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = policy.MaxAttempts - 1
	if rc.RetryMax < 0 {
		rc.RetryMax = 0
	}
	rc.RetryWaitMin = time.Duration(policy.InitialBackoffMs) * time.Millisecond
	rc.RetryWaitMax = time.Duration(policy.MaxBackoffMs) * time.Millisecond
	if policy.RequestTimeout > 0 {
		rc.HTTPClient.Timeout = policy.RequestTimeout
	}
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := float64(min) * math.Pow(multiplier, float64(attemptNum))
		if wait > float64(max) {
			wait = float64(max)
		}
		return time.Duration(wait)
	}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp != nil && retryable[resp.StatusCode] {
			return true, nil
		}
		return false, nil
	}
	return &DefaultFetcher{policy: policy, client: rc}
}

// SetUserAgent sets the User-Agent header sent with every request, used in
// case of multiple concurrent client sessions.
func (d *DefaultFetcher) SetUserAgent(ua string) {
	d.httpUserAgent = ua
}

// DownloadFile downloads a file from urlPath, errors out if it failed,
// its length is larger than maxLength or the timeout is reached.
func (d *DefaultFetcher) DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error) {
	if d.client == nil {
		*d = *NewDefaultFetcher(config.New().Retry)
	}
	if timeout > 0 {
		d.client.HTTPClient.Timeout = timeout
	}

	req, err := retryablehttp.NewRequest("GET", urlPath, nil)
	if err != nil {
		return nil, err
	}
	if d.httpUserAgent != "" {
		req.Header.Set("User-Agent", d.httpUserAgent)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, herr := readBody(res, urlPath, maxLength)
	if herr == nil {
		return data, nil
	}
	if !d.policy.RetryOnPartialRead || len(data) == 0 {
		return nil, herr
	}
	// the connection dropped mid-body: resume once from where we left off
	// via a Range request, per §4.4's retry_on_partial_read.
	resumeReq, err := retryablehttp.NewRequest("GET", urlPath, nil)
	if err != nil {
		return nil, herr
	}
	if d.httpUserAgent != "" {
		resumeReq.Header.Set("User-Agent", d.httpUserAgent)
	}
	resumeReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", len(data)))
	res2, err := d.client.Do(resumeReq)
	if err != nil {
		return nil, herr
	}
	defer res2.Body.Close()
	if res2.StatusCode == http.StatusOK {
		// the server ignored Range and sent the whole body again
		return readBody(res2, urlPath, maxLength)
	}
	rest, herr2 := readBody(res2, urlPath, maxLength-int64(len(data)))
	if herr2 != nil {
		return nil, herr2
	}
	return append(data, rest...), nil
}

func readBody(res *http.Response, urlPath string, maxLength int64) ([]byte, error) {
	if res.StatusCode == http.StatusNotFound {
		return nil, metadata.ErrNotFound{URL: urlPath}
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return nil, metadata.ErrDownloadHTTP{StatusCode: res.StatusCode, URL: urlPath}
	}
	if header := res.Header.Get("Content-Length"); header != "" {
		length, err := strconv.ParseInt(header, 10, 64)
		if err == nil && length > maxLength {
			return nil, metadata.ErrOversized{URL: urlPath, MaxBytes: maxLength}
		}
	}
	// read maxLength+1 to detect an undeclared/incorrect Content-Length
	data, err := io.ReadAll(io.LimitReader(res.Body, maxLength+1))
	if int64(len(data)) > maxLength {
		return data[:maxLength], metadata.ErrOversized{URL: urlPath, MaxBytes: maxLength}
	}
	if err != nil {
		return data, metadata.ErrDownload{Msg: fmt.Sprintf("reading body of %s: %s", urlPath, err)}
	}
	return data, nil
}

// FileFetcher implements Fetcher over file:// URLs, for offline or
// locally-mirrored repositories.
type FileFetcher struct{}

func (FileFetcher) DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error) {
	path := strings.TrimPrefix(urlPath, "file://")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, metadata.ErrNotFound{URL: urlPath}
		}
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxLength {
		return nil, metadata.ErrOversized{URL: urlPath, MaxBytes: maxLength}
	}
	data, err := io.ReadAll(io.LimitReader(f, maxLength+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxLength {
		return nil, metadata.ErrOversized{URL: urlPath, MaxBytes: maxLength}
	}
	return data, nil
}
