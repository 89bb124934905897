// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package info

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HDFGroup/hsgo/cli/presenter"
	ctxUtils "github.com/HDFGroup/hsgo/cli/util/context"
	"github.com/HDFGroup/hsgo/client"
	"github.com/HDFGroup/hsgo/client/transport"
)

var Command = &cobra.Command{
	Use:   "info",
	Short: "Show server state and domain summary",
	Long: `This command connects to the configured endpoint, reports the server
state, and (when a domain is given) summarizes the domain contents.

Usage examples:

1. Server information only:

	hsctl info

2. Domain summary:

	hsctl info --domain /home/user/data.h5
`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCommand(cmd)
	},
}

func runCommand(cmd *cobra.Command) error {
	cfg, ok := ctxUtils.GetConfigFromContext(cmd.Context())
	if !ok {
		return errors.New("failed to get config from context")
	}

	if opts.Domain == "" {
		return serverInfo(cmd, cfg)
	}

	sess, err := client.Open(cmd.Context(), cfg, opts.Domain, transport.ModeRead)
	if err != nil {
		return fmt.Errorf("failed to open domain: %w", err)
	}
	defer sess.Close() //nolint:errcheck

	info, err := sess.ServerInfo(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get server info: %w", err)
	}

	t := presenter.NewTable(cmd)
	t.AppendRow([]any{"endpoint", cfg.Endpoint})
	t.AppendRow([]any{"state", info["state"]})
	t.AppendRow([]any{"domain", sess.Domain()})
	t.AppendRow([]any{"root", sess.Root()})
	t.AppendRow([]any{"cached objects", sess.DB().Len()})
	t.Render()

	return nil
}

func serverInfo(cmd *cobra.Command, cfg *client.Config) error {
	conn, err := transport.New(cfg.TransportOptions("", transport.ModeRead))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	info, err := conn.ServerInfo(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get server info: %w", err)
	}

	t := presenter.NewTable(cmd)
	t.AppendRow([]any{"endpoint", cfg.Endpoint})
	t.AppendRow([]any{"name", info["name"]})
	t.AppendRow([]any{"version", info["hsds_version"]})
	t.AppendRow([]any{"state", info["state"]})
	t.Render()

	return nil
}
