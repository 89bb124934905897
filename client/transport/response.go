// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Response is the outcome of one request: a status code plus the raw body.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// OK reports whether the request succeeded (200 or 201).
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusCreated
}

// NotFound reports a 404 or 410 response. A 410 means the object existed
// and was deleted; identifiers are never reused, so both are terminal.
func (r *Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone
}

// IsBinary reports whether the response body is a binary payload.
func (r *Response) IsBinary() bool {
	return r.ContentType == "application/octet-stream"
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if !strings.HasPrefix(r.ContentType, "application/json") {
		return fmt.Errorf("response is not json (content type %q)", r.ContentType)
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unable to decode response body: %w", err)
	}

	return nil
}
