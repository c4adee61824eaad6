package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/metrics"
)

// Transport issues single HTTP requests to the agent.
// It owns its connection pool exclusively and is not safe for concurrent use.
type Transport struct {
	baseURL    string
	newClient  func() *http.Client
	httpClient *http.Client
	resets     int
}

// NewTransport creates a transport for the agent at baseURL.
func NewTransport(baseURL string) *Transport {
	t := &Transport{
		baseURL:   normalizeBaseURL(baseURL),
		newClient: newHTTPClient,
	}
	t.httpClient = t.newClient()
	return t
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        2,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func normalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// BaseURL returns the agent base URL with a trailing slash.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Reset discards pooled connections and builds a fresh client so no
// half-broken TCP/TLS state carries over to the next call.
func (t *Transport) Reset() {
	if t.httpClient != nil {
		t.httpClient.CloseIdleConnections()
	}
	t.httpClient = t.newClient()
	t.resets++
}

// Do performs one request bounded by timeout and returns the decoded body.
func (t *Transport) Do(ctx context.Context, req Request, timeout time.Duration) (map[string]interface{}, error) {
	start := time.Now()
	path := req.Path()
	method := req.method()
	requestID := uuid.New().String()

	log := logger.WithFields(logrus.Fields{
		"method":     method,
		"route":      path,
		"request_id": requestID,
	})

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reqBody io.Reader
	var bodyStr string
	if req.hasBody() {
		data, err := json.Marshal(req.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)

	resp, err := t.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	metrics.RequestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	if err != nil {
		outcome := metrics.OutcomeFatal
		if IsTransient(err) {
			outcome = metrics.OutcomeTransient
		}
		metrics.RequestsTotal.WithLabelValues(path, outcome).Inc()
		log.WithField("elapsed", elapsed).Debugf("request failed: %v", err)
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(path, metrics.OutcomeTransient).Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": elapsed,
	}).Debugf("body=%s", bodyStr)

	result, protoErr := parseResponse(method, path, resp.StatusCode, respBody)
	if protoErr != nil {
		metrics.RequestsTotal.WithLabelValues(path, metrics.OutcomeProtocol).Inc()
		return nil, protoErr
	}
	metrics.RequestsTotal.WithLabelValues(path, metrics.OutcomeOK).Inc()
	return result, nil
}

// parseResponse decodes the agent reply. Status >= 400 and bodies with an
// "error" key are protocol errors regardless of each other.
func parseResponse(method, path string, status int, body []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	decodeErr := json.Unmarshal(body, &result)

	if status >= 400 {
		return nil, &ProtocolError{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Body:       result,
			Raw:        string(body),
		}
	}

	if decodeErr != nil {
		return nil, &ProtocolError{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Raw:        fmt.Sprintf("invalid JSON response: %v (body: %s)", decodeErr, string(body)),
		}
	}

	if _, hasError := result["error"]; hasError {
		return nil, &ProtocolError{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Body:       result,
			Raw:        string(body),
		}
	}

	return result, nil
}
