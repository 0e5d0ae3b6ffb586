package config

import "time"

// RetryPolicy controls how DefaultFetcher retries a failed download. It maps
// directly onto hashicorp/go-retryablehttp's client knobs.
type RetryPolicy struct {
	MaxAttempts         int
	InitialBackoffMs    int64
	MaxBackoffMs        int64
	BackoffMultiplier   float64
	RetryableStatusSet  []int
	RetryOnPartialRead  bool
	RequestTimeout      time.Duration
}

type UpdaterConfig struct {
	MaxRootRotations      int64
	MaxDelegations        int64
	RootMaxLength         int64
	TimestampMaxLength    int64
	SnapshotMaxLength     int64
	TargetsMaxLength      int64
	PrefixTargetsWithHash bool

	// AllowExpiredRepo downgrades an otherwise fatal ErrExpiredMetadata into
	// a warning collected on Updater.Warnings(), letting a caller proceed
	// against a repository whose signers have gone stale.
	AllowExpiredRepo bool

	Retry RetryPolicy
}

// New creates a new UpdaterConfig instance used by the Updater to
// store configuration
func New() *UpdaterConfig {
	return &UpdaterConfig{
		MaxRootRotations:      32,
		MaxDelegations:        32,
		RootMaxLength:         512000,  // bytes
		TimestampMaxLength:    16384,   // bytes
		SnapshotMaxLength:     2000000, // bytes
		TargetsMaxLength:      5000000, // bytes
		PrefixTargetsWithHash: true,
		AllowExpiredRepo:       false,
		Retry: RetryPolicy{
			MaxAttempts:        3,
			InitialBackoffMs:   250,
			MaxBackoffMs:       5000,
			BackoffMultiplier:  2,
			RetryableStatusSet: []int{408, 429, 500, 502, 503, 504},
			RetryOnPartialRead: true,
			RequestTimeout:     30 * time.Second,
		},
	}
}
