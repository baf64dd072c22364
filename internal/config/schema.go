package config

type Config struct {
	Nodes     []NodeConfig    `yaml:"nodes"`
	HTTP      HTTPConfig      `yaml:"http"`
	Verify    VerifyConfig    `yaml:"verify"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	DevNode   DevNodeConfig   `yaml:"devnode"`
}

// NodeConfig names one node by the base URL of its HTTP API,
// e.g. http://localhost:9181/api/v0.
type NodeConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type HTTPConfig struct {
	Timeout string `yaml:"timeout"`
	// Retries apply to idempotent reads only. Writes are never retried.
	MaxReadRetries int    `yaml:"max_read_retries"`
	RetryWaitMin   string `yaml:"retry_wait_min"`
	RetryWaitMax   string `yaml:"retry_wait_max"`
}

var DefaultHTTPConfig = HTTPConfig{
	Timeout:        "10s",
	MaxReadRetries: 0,
	RetryWaitMin:   "100ms",
	RetryWaitMax:   "1s",
}

type VerifyConfig struct {
	Interval string `yaml:"interval"`
	Budget   string `yaml:"budget"`
}

var DefaultVerifyConfig = VerifyConfig{
	Interval: "500ms",
	Budget:   "10s",
}

type SyncConfig struct {
	// Timeout is passed to the node with every one-shot sync. Empty leaves
	// the server default in place.
	Timeout string `yaml:"timeout"`
}

var DefaultSyncConfig = SyncConfig{
	Timeout: "30s",
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var DefaultLoggingConfig = LoggingConfig{
	Level:  "info",
	Format: LogFormatConsole,
}

type DiscoveryConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	Prefix      string   `yaml:"prefix"`
	DialTimeout string   `yaml:"dial_timeout"`
	LeaseTTL    int64    `yaml:"lease_ttl"`
}

var DefaultDiscoveryConfig = DiscoveryConfig{
	Prefix:      "/peersync/nodes",
	DialTimeout: "5s",
	LeaseTTL:    10,
}

type DevNodeConfig struct {
	Listen           string `yaml:"listen"`
	Name             string `yaml:"name"`
	PeerID           string `yaml:"peer_id"`
	ReplicationDelay string `yaml:"replication_delay"`
	// Collections are declared on every node at start.
	Collections []string `yaml:"collections"`
	// Count nodes are started on consecutive ports and share one network.
	Count int `yaml:"count"`
}

var DefaultDevNodeConfig = DevNodeConfig{
	Listen:           ":9181",
	Name:             "devnode",
	ReplicationDelay: "200ms",
	Count:            1,
	Collections:      []string{"User", "Product", "Message"},
}
