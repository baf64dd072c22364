package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap/zapcore"
)

type Validator interface {
	validateNodes() error
	validateHTTPConfig() error
	validateVerifyConfig() error
	validateLoggingConfig() error
	validateDiscoveryConfig() error
	validateDevNodeConfig() error
}

func validateConfig(config Validator) error {
	checks := []func() error{
		config.validateNodes,
		config.validateHTTPConfig,
		config.validateVerifyConfig,
		config.validateLoggingConfig,
		config.validateDiscoveryConfig,
		config.validateDevNodeConfig,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateNodes() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf(fmtErrEmptyConfigOption, fmt.Sprintf("nodes[%d].name", i))
		}
		if seen[n.Name] {
			return fmt.Errorf("config node %q is listed twice", n.Name)
		}
		seen[n.Name] = true
		if n.URL == "" {
			return fmt.Errorf(fmtErrEmptyConfigOption, fmt.Sprintf("nodes[%d].url", i))
		}
		if _, err := url.Parse(n.URL); err != nil {
			return fmt.Errorf("config node %q has an invalid url: %w", n.Name, err)
		}
	}

	return nil
}

func (c *Config) validateHTTPConfig() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	if err := positiveDuration("http.timeout", c.HTTP.Timeout); err != nil {
		return err
	}
	if c.HTTP.MaxReadRetries < 0 {
		return errors.New("config field 'http.max_read_retries' cannot be negative")
	}
	if c.HTTP.MaxReadRetries > 0 {
		if err := positiveDuration("http.retry_wait_min", c.HTTP.RetryWaitMin); err != nil {
			return err
		}
		if err := positiveDuration("http.retry_wait_max", c.HTTP.RetryWaitMax); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateVerifyConfig() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	if err := positiveDuration("verify.interval", c.Verify.Interval); err != nil {
		return err
	}
	if err := positiveDuration("verify.budget", c.Verify.Budget); err != nil {
		return err
	}
	if c.Verify.IntervalDuration() > c.Verify.BudgetDuration() {
		return errors.New("config field 'verify.interval' cannot exceed 'verify.budget'")
	}

	if c.Sync.Timeout != "" {
		if err := positiveDuration("sync.timeout", c.Sync.Timeout); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateLoggingConfig() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config field 'logging.level': %w", err)
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		return fmt.Errorf("config field 'logging.format' must be %q or %q", LogFormatJSON, LogFormatConsole)
	}

	return nil
}

func (c *Config) validateDiscoveryConfig() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	if len(c.Discovery.Endpoints) == 0 {
		return nil
	}
	if c.Discovery.Prefix == "" {
		return fmt.Errorf(fmtErrEmptyConfigOption, "discovery.prefix")
	}
	if err := positiveDuration("discovery.dial_timeout", c.Discovery.DialTimeout); err != nil {
		return err
	}
	if c.Discovery.LeaseTTL <= 0 {
		return fmt.Errorf(fmtErrNonPositive, "discovery.lease_ttl")
	}

	return nil
}

func (c *Config) validateDevNodeConfig() error {
	if c == nil {
		return fmt.Errorf(fmtErrEmptyConfig, "config")
	}

	if c.DevNode.Listen == "" {
		return fmt.Errorf(fmtErrEmptyConfigOption, "devnode.listen")
	}
	if c.DevNode.Count <= 0 {
		return fmt.Errorf(fmtErrNonPositive, "devnode.count")
	}
	if c.DevNode.ReplicationDelay != "" {
		if _, err := time.ParseDuration(c.DevNode.ReplicationDelay); err != nil {
			return fmt.Errorf(fmtErrInvalidDuration, "devnode.replication_delay", err)
		}
	}

	return nil
}

func positiveDuration(field, value string) error {
	if value == "" {
		return fmt.Errorf(fmtErrEmptyConfigOption, field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf(fmtErrInvalidDuration, field, err)
	}
	if d <= 0 {
		return fmt.Errorf(fmtErrNonPositive, field)
	}
	return nil
}
