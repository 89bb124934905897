// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// setAuthHeader attaches credentials to the request: a bearer token when an
// api key is configured, basic auth when a username and password are set,
// and nothing otherwise. An Authorization header supplied by the caller is
// left alone.
func (c *Conn) setAuthHeader(req *http.Request) {
	if req.Header.Get("Authorization") != "" {
		return
	}

	if c.opts.APIKey != "" {
		warnIfExpired(c.opts.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

		return
	}

	if c.opts.Username != "" && c.opts.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.opts.Username + ":" + c.opts.Password))
		req.Header.Set("Authorization", "Basic "+cred)
	}
}

// warnIfExpired inspects a JWT-shaped api key and logs when its expiry claim
// has passed. Opaque (non-JWT) api keys are sent as-is.
func warnIfExpired(token string) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	if exp.Before(time.Now()) {
		log.Warnw("bearer token has expired", "expired", exp.Time)
	}
}
