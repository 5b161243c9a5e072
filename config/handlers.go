package config

import (
	"strings"
	"time"
)

// HandlersConfig groups configuration for the built-in job handlers.
type HandlersConfig struct {
	RiskSnapshot RiskSnapshotConfig `envPrefix:"HANDLER_RISK_SNAPSHOT_"`
	FeedCheck    FeedCheckConfig    `envPrefix:"HANDLER_FEED_CHECK_"`
	DigestNotify DigestNotifyConfig `envPrefix:"HANDLER_DIGEST_NOTIFY_"`
}

// Sanitize applies guardrails to handler configuration values.
func (c *HandlersConfig) Sanitize() {
	c.RiskSnapshot.Sanitize()
	c.FeedCheck.Sanitize()
	c.DigestNotify.Sanitize()
}

// RiskSnapshotConfig controls the compliance risk snapshot handler.
type RiskSnapshotConfig struct {
	// MaxResultAge bounds how old the last recorded run may be before the
	// snapshot flags a job as stale in the aggregate.
	MaxResultAge time.Duration `env:"MAX_RESULT_AGE" envDefault:"48h"`
}

// Sanitize applies guardrails to risk snapshot configuration values.
func (c *RiskSnapshotConfig) Sanitize() {
	if c.MaxResultAge < time.Hour {
		c.MaxResultAge = time.Hour
	}
}

// FeedCheckConfig controls the regulatory feed polling handler.
type FeedCheckConfig struct {
	// URL is the feed endpoint to poll. Empty disables the handler.
	URL string `env:"URL"`

	// Timeout bounds each poll request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// CacheTTL is how long feed validators (ETags) stay cached.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to feed check configuration values.
func (c *FeedCheckConfig) Sanitize() {
	c.URL = strings.TrimSpace(c.URL)
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheTTL < time.Minute {
		c.CacheTTL = time.Minute
	}
}

// DigestNotifyConfig controls the failure digest handler.
type DigestNotifyConfig struct {
	// Window is how far back the digest looks for failing jobs.
	Window time.Duration `env:"WINDOW" envDefault:"24h"`

	// MinErrorCount filters jobs below this consecutive failure count out
	// of the digest.
	MinErrorCount int `env:"MIN_ERROR_COUNT" envDefault:"1"`
}

// Sanitize applies guardrails to digest configuration values.
func (c *DigestNotifyConfig) Sanitize() {
	if c.Window < time.Hour {
		c.Window = time.Hour
	}
	if c.MinErrorCount < 1 {
		c.MinErrorCount = 1
	}
}
