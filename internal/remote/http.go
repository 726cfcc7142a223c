package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/wire"
)

// HTTPConfig holds the settings of an HTTPTransport.
type HTTPConfig struct {
	// Timeout bounds one Send call, retries included.
	Timeout time.Duration

	// MaxResponseSize bounds response bodies after decompression.
	MaxResponseSize int64

	// CriticalAttempts is how many rounds over all replicas a critical
	// request gets when every replica is throttled or unreachable.
	CriticalAttempts int

	// RetryDelay is the linear backoff step between critical rounds.
	RetryDelay time.Duration

	Logger logrus.FieldLogger
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:          30 * time.Second,
		MaxResponseSize:  64 << 20,
		CriticalAttempts: 3,
		RetryDelay:       time.Second,
		Logger:           logrus.StandardLogger(),
	}
}

// HTTPTransport sends requests over HTTP, trying replicas in random
// order until one gives an accepted answer.
type HTTPTransport struct {
	cluster Cluster
	client  *http.Client
	config  *HTTPConfig
	log     logrus.FieldLogger
}

// NewHTTPTransport creates a transport for cluster.
func NewHTTPTransport(cluster Cluster, config *HTTPConfig) (*HTTPTransport, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster cannot be nil")
	}
	if config == nil {
		config = DefaultHTTPConfig()
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPTransport{
		cluster: cluster,
		client:  &http.Client{},
		config:  config,
		log:     log,
	}, nil
}

// accepted lists the codes that end the replica walk.
func accepted(code int) bool {
	switch code {
	case http.StatusOK, http.StatusPartialContent, http.StatusNotModified:
		return true
	default:
		return false
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Result, error) {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	replicas, err := t.cluster.Replicas(ctx)
	if err != nil {
		return nil, err
	}
	if len(replicas) == 0 {
		return &Result{Status: StatusReplicasNotFound}, nil
	}

	attempts := 1
	if req.Critical && t.config.CriticalAttempts > 1 {
		attempts = t.config.CriticalAttempts
	}

	result := &Result{Status: StatusReplicasExhausted}
	for attempt := 1; attempt <= attempts; attempt++ {
		order := rand.Perm(len(replicas))
		for _, i := range order {
			replica := replicas[i]
			resp, err := t.sendOnce(ctx, replica, req)
			result.Replicas = append(result.Replicas, ReplicaResult{Replica: replica, Response: resp, Err: err})
			if status, done := contextStatus(ctx); done {
				result.Status = status
				return result, nil
			}
			if err == nil && accepted(resp.StatusCode) {
				result.Status = StatusSuccess
				result.Response = resp
				result.Replica = replica
				return result, nil
			}
		}

		if attempt == attempts || !retryable(result.Replicas[len(result.Replicas)-len(replicas):]) {
			break
		}
		delay := time.Duration(attempt) * t.config.RetryDelay
		t.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("All cluster config replicas unavailable, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Status, _ = contextStatus(ctx)
			return result, nil
		}
	}
	return result, nil
}

func contextStatus(ctx context.Context) (ResultStatus, bool) {
	switch {
	case ctx.Err() == nil:
		return StatusSuccess, false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return StatusTimeExpired, true
	default:
		return StatusCanceled, true
	}
}

// retryable reports whether every replica of a round was throttled,
// unavailable or unreachable.
func retryable(round []ReplicaResult) bool {
	for _, rr := range round {
		if rr.Err != nil {
			var netErr net.Error
			if errors.As(rr.Err, &netErr) || errors.Is(rr.Err, io.EOF) {
				continue
			}
			return false
		}
		code := rr.Response.StatusCode
		if code != http.StatusServiceUnavailable && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

func (t *HTTPTransport) sendOnce(ctx context.Context, replica string, req *Request) (*Response, error) {
	target := replica + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/octet-stream")
	}
	httpReq.Header.Set("Accept-Encoding", "gzip")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var src io.Reader = httpResp.Body
	if t.config.MaxResponseSize > 0 {
		src = io.LimitReader(src, t.config.MaxResponseSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		if data, err = wire.Decompress(data, t.config.MaxResponseSize); err != nil {
			return nil, err
		}
		httpResp.Header.Del("Content-Encoding")
	} else if t.config.MaxResponseSize > 0 && int64(len(data)) > t.config.MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", t.config.MaxResponseSize)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
