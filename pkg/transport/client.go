package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/metrics"
	"github.com/devicelab-dev/device-agent/pkg/retry"
)

// DefaultPolicy is used for plain calls when no override is given.
var DefaultPolicy = retry.Policy{
	Retries:  5,
	Timeout:  10 * time.Second,
	Interval: 100 * time.Millisecond,
}

// Client wraps a Transport with a time-budgeted retry loop.
// Callers only ever see successful bodies or errors.
type Client struct {
	transport *Transport
	policy    retry.Policy
}

// NewClient creates a retrying client. A zero policy falls back to DefaultPolicy.
func NewClient(t *Transport, policy retry.Policy) *Client {
	return &Client{
		transport: t,
		policy:    DefaultPolicy.Override(policy),
	}
}

// Transport returns the underlying single-call transport.
func (c *Client) Transport() *Transport {
	return c.transport
}

// Policy returns the default policy applied when Request gets a zero override.
func (c *Client) Policy() retry.Policy {
	return c.policy
}

// BaseURL returns the agent base URL.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL()
}

// Request sends req, retrying transient failures until the policy's
// attempts or wall-clock budget run out. Non-zero fields of override replace
// the client's default policy.
func (c *Client) Request(ctx context.Context, req Request, override retry.Policy) (map[string]interface{}, error) {
	policy := c.policy.Override(override)
	path := req.Path()
	perCall := policy.Timeout

	var body map[string]interface{}
	err := retry.Do(ctx, policy, IsTransient, func(ctx context.Context, a retry.Attempt) error {
		if a.Number > 1 {
			metrics.RetriesTotal.WithLabelValues(path).Inc()
		}
		if a.Remaining < perCall {
			perCall = a.Remaining
		}

		result, err := c.transport.Do(ctx, req, perCall)
		if err != nil {
			var protoErr *ProtocolError
			if IsTransient(err) || errors.As(err, &protoErr) {
				c.transport.Reset()
			}
			if IsTransient(err) {
				logger.WithFields(logrus.Fields{
					"route":   path,
					"attempt": a.Number,
					"of":      policy.Attempts(),
				}).Debugf("transient error, retrying in %v: %v", policy.Interval, err)
			}
			return err
		}
		body = result
		return nil
	})
	if err == nil {
		return body, nil
	}

	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return nil, &TransportError{
			Method:   req.method(),
			Path:     path,
			BaseURL:  c.transport.BaseURL(),
			Attempts: ex.Attempts,
			Hint:     Hint(ex.Last),
			Cause:    ex.Last,
		}
	}
	return nil, err
}

// Get issues a GET with the default policy.
func (c *Client) Get(ctx context.Context, route string) (map[string]interface{}, error) {
	return c.Request(ctx, Get(route), retry.Policy{})
}

// Post issues a POST with the default policy.
func (c *Client) Post(ctx context.Context, route string, params interface{}) (map[string]interface{}, error) {
	return c.Request(ctx, Post(route, params), retry.Policy{})
}

// Delete issues a DELETE with the default policy.
func (c *Client) Delete(ctx context.Context, route string) (map[string]interface{}, error) {
	return c.Request(ctx, Delete(route), retry.Policy{})
}
