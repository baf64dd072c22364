// Package node is the client for one remote node's HTTP API. Every method
// is a single request; nothing is cached between calls.
package node

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/pkg/stream"
)

const DefaultTimeout = 10 * time.Second

// Client talks to one node. It is safe for concurrent use; the only shared
// state is the underlying connection pool.
type Client struct {
	name    string
	baseURL *url.URL

	// read serves GETs and may retry; write never retries.
	read  *retryablehttp.Client
	write *retryablehttp.Client

	decoder *stream.Decoder
	logger  *zap.Logger
}

type clientOpts struct {
	logger       *zap.Logger
	httpClient   *http.Client
	timeout      time.Duration
	readRetries  int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

type Opt func(*clientOpts)

func WithLogger(logger *zap.Logger) Opt {
	return func(o *clientOpts) { o.logger = logger }
}

// WithHTTPClient replaces the underlying client. Its Timeout is left alone.
func WithHTTPClient(hc *http.Client) Opt {
	return func(o *clientOpts) { o.httpClient = hc }
}

// WithTimeout bounds one whole HTTP exchange, body included.
func WithTimeout(d time.Duration) Opt {
	return func(o *clientOpts) { o.timeout = d }
}

// WithReadRetries lets idempotent reads retry transport failures and 5xx
// responses up to n times, waiting between min and max.
func WithReadRetries(n int, min, max time.Duration) Opt {
	return func(o *clientOpts) {
		o.readRetries = n
		o.retryWaitMin = min
		o.retryWaitMax = max
	}
}

// NewClient returns a client for the node whose API lives at baseURL, e.g.
// http://localhost:9181/api/v0. A missing scheme defaults to http.
func NewClient(name, baseURL string, opts ...Opt) (*Client, error) {
	u, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing address of node %s: %w", name, err)
	}

	o := clientOpts{
		logger:       zap.NewNop(),
		timeout:      DefaultTimeout,
		retryWaitMin: 100 * time.Millisecond,
		retryWaitMax: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}
	logger := o.logger.With(zap.String("node", name))

	c := &Client{
		name:    name,
		baseURL: u,
		read: &retryablehttp.Client{
			HTTPClient:   hc,
			Logger:       retryableHTTPLogger{inner: logger},
			RetryMax:     o.readRetries,
			RetryWaitMin: o.retryWaitMin,
			RetryWaitMax: o.retryWaitMax,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		write: &retryablehttp.Client{
			HTTPClient:   hc,
			Logger:       retryableHTTPLogger{inner: logger},
			RetryMax:     0,
			CheckRetry:   neverRetry,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		decoder: stream.NewDecoder(logger),
		logger:  logger,
	}

	logger.Debug("created node client",
		zap.Stringer("url", u),
		zap.Duration("timeout", hc.Timeout),
		zap.Int("read retries", o.readRetries),
	)
	return c, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) BaseURL() string { return c.baseURL.String() }
