package config

import "time"

// Durations are validated on load, so the accessors fall back to zero only
// for a Config that skipped LoadConfig.

func parseOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// TimeoutDuration bounds one whole HTTP exchange.
func (c *HTTPConfig) TimeoutDuration() time.Duration { return parseOrZero(c.Timeout) }

func (c *HTTPConfig) RetryWaitMinDuration() time.Duration { return parseOrZero(c.RetryWaitMin) }

func (c *HTTPConfig) RetryWaitMaxDuration() time.Duration { return parseOrZero(c.RetryWaitMax) }

func (c *VerifyConfig) IntervalDuration() time.Duration { return parseOrZero(c.Interval) }

func (c *VerifyConfig) BudgetDuration() time.Duration { return parseOrZero(c.Budget) }

// TimeoutDuration is zero when the server default should apply.
func (c *SyncConfig) TimeoutDuration() time.Duration { return parseOrZero(c.Timeout) }

func (c *DiscoveryConfig) DialTimeoutDuration() time.Duration { return parseOrZero(c.DialTimeout) }

func (c *DevNodeConfig) ReplicationDelayDuration() time.Duration {
	return parseOrZero(c.ReplicationDelay)
}
