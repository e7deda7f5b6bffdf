// Package config provides configuration management for the ramen crawler.
package config

import "time"

// Default configuration values for ramen.
const (
	// DefaultMaxThreads of zero sizes the worker pool from the host.
	DefaultMaxThreads = 0

	// DefaultRetentionDays is the default number of days to retain run records.
	DefaultRetentionDays = 30

	// DefaultMaxAttempts bounds retries of a target whose worker crashed.
	DefaultMaxAttempts = 3

	// DefaultPopTimeout is how long an idle worker waits for work.
	DefaultPopTimeout = 5 * time.Second

	// DefaultPollInterval is how often the supervisor checks the pool.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultMaxConsecutiveErrors fails a target after this many walk errors in a row.
	DefaultMaxConsecutiveErrors = 100

	// DefaultValidateTimeout bounds the validation of one target.
	DefaultValidateTimeout = 30 * time.Second

	// DefaultMaxExpand caps the hosts one CIDR line may produce.
	DefaultMaxExpand = 4096

	// DefaultHashAlgorithm is used by the hash plugin.
	DefaultHashAlgorithm = "sha256"

	// DefaultHashMaxSize skips hashing files larger than this.
	DefaultHashMaxSize = "64MiB"

	// DefaultLogMaxSize triggers log rotation.
	DefaultLogMaxSize = "10MB"
)

// DefaultActions are the plugins run on every record.
var DefaultActions = []string{}

// DefaultExtensions are the predicate-gated plugins.
var DefaultExtensions = []string{"secrets"}

// DefaultProbePorts are probed before validation.
var DefaultProbePorts = []int{21, 80, 443, 8080, 8443}
