package config

const (
	fmtErrEmptyConfig       = "config %s cannot be empty"
	fmtErrEmptyConfigOption = "config field '%s' cannot be empty"
	fmtErrInvalidDuration   = "config field '%s' is not a valid duration: %w"
	fmtErrNonPositive       = "config field '%s' must be positive"
)

// Environment overrides, applied after the file.
const (
	EnvNodes       = "PEERSYNC_NODES"
	EnvLogLevel    = "PEERSYNC_LOG_LEVEL"
	EnvLogFormat   = "PEERSYNC_LOG_FORMAT"
	EnvHTTPTimeout = "PEERSYNC_HTTP_TIMEOUT"
	EnvEtcd        = "PEERSYNC_ETCD"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)
