// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package context carries shared CLI state through cobra command contexts.
package context

import (
	"context"

	"github.com/HDFGroup/hsgo/client"
)

type configKey struct{}

// WithConfig stores the loaded client configuration in the context.
func WithConfig(ctx context.Context, cfg *client.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfigFromContext returns the client configuration stored by the root
// command.
func GetConfigFromContext(ctx context.Context) (*client.Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(*client.Config)

	return cfg, ok
}
