package cmd

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata"
)

func TestExitCodeUsageError(t *testing.T) {
	assert.Equal(t, 2, exitCode(errUsage("bad flag")))
}

func TestExitCodeVerificationErrors(t *testing.T) {
	cases := []error{
		metadata.ErrThreshold{Role: "targets", Got: 1, Wanted: 2},
		metadata.ErrRollback{Role: "snapshot", Current: 2, New: 1},
		metadata.ErrExpiredMetadata{Role: "root", Expires: "2020-01-01"},
		metadata.ErrDelegationCycle{Role: "team-a"},
		metadata.ErrPathTraversal{Path: "../x"},
		metadata.ErrBadVersionNumber{Role: "root", Msg: "bad"},
		metadata.ErrEqualVersionNumber{Role: "timestamp", Version: 1},
	}
	for _, err := range cases {
		assert.Equal(t, 1, exitCode(err), "%T", err)
	}
}

func TestExitCodeTransportErrors(t *testing.T) {
	cases := []error{
		metadata.ErrDownloadHTTP{URL: "https://x", StatusCode: 500},
		metadata.ErrOversized{URL: "https://x", MaxBytes: 10},
		metadata.ErrNotFound{URL: "https://x"},
		os.ErrNotExist,
	}
	for _, err := range cases {
		assert.Equal(t, 3, exitCode(err), "%T", err)
	}
}

func TestExitCodeWrappedPathError(t *testing.T) {
	_, err := os.Open("/no/such/file/anywhere")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestExitCodeDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("something unclassified")))
}

func TestParseExpiresRFC3339(t *testing.T) {
	got, err := parseExpires("2030-06-15T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2030, 6, 15, 0, 0, 0, 0, time.UTC)))
}

func TestParseExpiresRelativeDays(t *testing.T) {
	before := time.Now().UTC()
	got, err := parseExpires("in 5 days")
	require.NoError(t, err)
	assert.WithinDuration(t, before.AddDate(0, 0, 5), got, 5*time.Second)
}

func TestParseExpiresRelativeWeeksMonthsYears(t *testing.T) {
	before := time.Now().UTC()

	gotWeeks, err := parseExpires("in 2 weeks")
	require.NoError(t, err)
	assert.WithinDuration(t, before.AddDate(0, 0, 14), gotWeeks, 5*time.Second)

	gotMonths, err := parseExpires("in 1 month")
	require.NoError(t, err)
	assert.WithinDuration(t, before.AddDate(0, 1, 0), gotMonths, 5*time.Second)

	gotYears, err := parseExpires("in 1 year")
	require.NoError(t, err)
	assert.WithinDuration(t, before.AddDate(1, 0, 0), gotYears, 5*time.Second)
}

func TestParseExpiresRejectsEmpty(t *testing.T) {
	_, err := parseExpires("")
	assert.Error(t, err)
}

func TestParseExpiresRejectsUnknownUnit(t *testing.T) {
	_, err := parseExpires("in 5 fortnights")
	assert.Error(t, err)
}

func TestParseExpiresRejectsGarbage(t *testing.T) {
	_, err := parseExpires("not a date")
	assert.Error(t, err)
}
