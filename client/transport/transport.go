// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package transport issues authenticated, retried HTTP exchanges against one
// remote HSDS domain. All requests are implicitly scoped to the domain and
// optional storage bucket configured at construction time.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/utils/logging"
)

var log = logging.Logger("client/transport")

// Mode is the access intent a domain session was opened with.
type Mode string

const (
	ModeRead   Mode = "r"
	ModeAppend Mode = "a"
)

const (
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 3

	dialTimeout         = 5 * time.Second
	tlsHandshakeTimeout = 5 * time.Second
)

// Options configures a Conn.
type Options struct {
	Endpoint string
	Domain   string
	Bucket   string
	Username string
	Password string
	APIKey   string
	Mode     Mode
	Retries  int
	Timeout  time.Duration
}

// Conn owns the pooled HTTP client and credentials for one domain session.
// It is not safe for concurrent use; the engine is single-threaded
// cooperative from the caller's perspective.
type Conn struct {
	opts   Options
	httpc  *http.Client
	closed bool

	serverInfo map[string]any
}

// New validates the options and returns an open connection. No request is
// issued until the first verb call.
func New(opts Options) (*Conn, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint set")
	}

	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")

	if opts.Mode == "" {
		opts.Mode = ModeRead
	}

	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	httpc := &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: tlsHandshakeTimeout,
		},
		Timeout: opts.Timeout,
	}

	return &Conn{
		opts:  opts,
		httpc: httpc,
	}, nil
}

// Domain returns the domain path this connection is scoped to.
func (c *Conn) Domain() string { return c.opts.Domain }

// Bucket returns the storage bucket, if any.
func (c *Conn) Bucket() string { return c.opts.Bucket }

// Mode returns the access intent of the session.
func (c *Conn) Mode() Mode { return c.opts.Mode }

// Closed reports whether Close has been called. The node cache holds a
// non-owning reference to the connection and checks liveness through this
// before every network touch.
func (c *Conn) Closed() bool { return c.closed }

// Close shuts the connection down. Subsequent requests fail ErrConnClosed.
func (c *Conn) Close() {
	if c.closed {
		return
	}

	log.Debugw("closing connection", "domain", c.opts.Domain)
	c.httpc.CloseIdleConnections()
	c.closed = true
}

// Get issues a GET request scoped to the session domain.
func (c *Conn) Get(ctx context.Context, req string, params url.Values, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, req, nil, params, headers)
}

// Put issues a PUT request. A []byte body is sent as a binary payload; any
// other body is JSON encoded.
func (c *Conn) Put(ctx context.Context, req string, body any, params url.Values, headers http.Header) (*Response, error) {
	if err := c.checkWriteIntent(req); err != nil {
		return nil, err
	}

	return c.do(ctx, http.MethodPut, req, body, params, headers)
}

// Post issues a POST request.
func (c *Conn) Post(ctx context.Context, req string, body any, params url.Values, headers http.Header) (*Response, error) {
	// dataset point selections POST against the value endpoint but are reads
	if !isPointSelection(req) {
		if err := c.checkWriteIntent(req); err != nil {
			return nil, err
		}
	}

	return c.do(ctx, http.MethodPost, req, body, params, headers)
}

// Delete issues a DELETE request.
func (c *Conn) Delete(ctx context.Context, req string, params url.Values, headers http.Header) (*Response, error) {
	if err := c.checkWriteIntent(req); err != nil {
		return nil, err
	}

	return c.do(ctx, http.MethodDelete, req, nil, params, headers)
}

// ServerInfo fetches and caches the server /about response.
func (c *Conn) ServerInfo(ctx context.Context) (map[string]any, error) {
	if c.serverInfo != nil {
		return c.serverInfo, nil
	}

	rsp, err := c.Get(ctx, "/about", nil, nil)
	if err != nil {
		return nil, err
	}

	if rsp.StatusCode != http.StatusOK {
		return nil, corev1.NewStatusError("GET /about", rsp.StatusCode)
	}

	info := map[string]any{}
	if err := rsp.JSON(&info); err != nil {
		return nil, err
	}

	c.serverInfo = info

	return info, nil
}

func (c *Conn) checkWriteIntent(req string) error {
	if c.opts.Mode == ModeRead {
		return fmt.Errorf("unable to perform request %s: %w", req, corev1.ErrReadOnly)
	}

	return nil
}

func isPointSelection(req string) bool {
	return strings.HasPrefix(req, "/datasets/") && strings.HasSuffix(req, "/value")
}

func (c *Conn) do(ctx context.Context, method, req string, body any, params url.Values, headers http.Header) (*Response, error) {
	if c.closed {
		return nil, corev1.ErrConnClosed
	}

	if c.opts.Domain == "" && requiresDomain(req) {
		return nil, fmt.Errorf("no domain defined: req: %s", req)
	}

	merged := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}

	if merged.Get("domain") == "" && c.opts.Domain != "" {
		merged.Set("domain", c.opts.Domain)
	}

	if merged.Get("bucket") == "" && c.opts.Bucket != "" {
		merged.Set("bucket", c.opts.Bucket)
	}

	data, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	target := c.opts.Endpoint + req + "?" + merged.Encode()

	var rsp *Response

	operation := func() error {
		hreq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}

		for k, vs := range headers {
			for _, v := range vs {
				hreq.Header.Add(k, v)
			}
		}

		if contentType != "" && hreq.Header.Get("Content-Type") == "" {
			hreq.Header.Set("Content-Type", contentType)
		}

		if hreq.Header.Get("Accept-Encoding") == "" {
			hreq.Header.Set("Accept-Encoding", "deflate, gzip")
		}

		c.setAuthHeader(hreq)

		start := time.Now()

		hrsp, err := c.httpc.Do(hreq)
		if err != nil {
			log.Warnw("connection error", "method", method, "req", req, "error", err)

			return err // retryable
		}
		defer hrsp.Body.Close()

		respBody, err := io.ReadAll(hrsp.Body)
		if err != nil {
			return err // retryable
		}

		log.Debugw("request complete",
			"method", method, "req", req,
			"status", hrsp.StatusCode, "elapsed", time.Since(start))

		if retryableStatus(hrsp.StatusCode) {
			return fmt.Errorf("%s %s: %w", method, req, corev1.NewStatusError(method+" "+req, hrsp.StatusCode))
		}

		rsp = &Response{
			StatusCode:  hrsp.StatusCode,
			Body:        respBody,
			ContentType: hrsp.Header.Get("Content-Type"),
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.opts.Retries)),
		ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, req, err)
	}

	return rsp, nil
}

func encodeBody(body any) (data []byte, contentType string, err error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	default:
		data, err = json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("unable to encode request body: %w", err)
		}

		return data, "application/json", nil
	}
}

// requiresDomain reports whether the request path needs a domain parameter.
// Server-level endpoints are exempt.
func requiresDomain(req string) bool {
	switch req {
	case "/about", "/info", "/domains":
		return false
	default:
		return true
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
