package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/internal/telemetry"
	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const (
	maxBody         = 4 << 20
	requestIDHeader = "X-Request-Id"
)

// A wrapper around zap.Logger to make it compatible with
// retryablehttp.LeveledLogger interface.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

func (r retryableHTTPLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHTTPLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHTTPLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHTTPLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

func neverRetry(context.Context, *http.Response, error) (bool, error) {
	return false, nil
}

func success(status int) bool {
	return status >= 200 && status <= 299
}

// send issues one request and returns the open response. The caller closes
// the body. Transport failures come back as *p2p.Error.
func (c *Client) send(ctx context.Context, op, method, path string, in any) (*http.Response, func(int), error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return nil, nil, fmt.Errorf("%s: marshaling request body: %w", op, err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: creating HTTP request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)

	hc := c.write
	if method == http.MethodGet {
		hc = c.read
	}

	done := telemetry.StartRequest(op)
	res, err := hc.Do(req)
	if err != nil {
		done(0)
		c.logger.Debug("request failed",
			zap.String("op", op),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return nil, nil, p2p.Transport(op, err)
	}
	c.logger.Debug("response received",
		zap.String("op", op),
		zap.String("request_id", reqID),
		zap.Int("status", res.StatusCode),
	)
	return res, done, nil
}

// do performs a JSON request. out may be nil when no body is expected.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	res, done, err := c.send(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	done(res.StatusCode)
	if err != nil {
		return p2p.Transport(op, fmt.Errorf("reading response body: %w", err))
	}

	if !success(res.StatusCode) {
		return responseError(op, res.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return p2p.Malformed(op, res.StatusCode, io.ErrUnexpectedEOF)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return p2p.Malformed(op, res.StatusCode, err)
	}
	return nil
}

// responseError decodes the {"error": ...} body every endpoint sends on
// failure, falling back to the raw status and body.
func responseError(op string, status int, data []byte) error {
	var eb p2p.ErrorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return p2p.Rejection(op, status, eb.Error)
	}
	return p2p.Unexpected(op, status, data)
}
