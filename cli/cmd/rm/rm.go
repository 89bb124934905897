// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package rm

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
	Use:   "rm <domain>",
	Short: "Delete a domain",
	Long: `This command deletes the given domain and everything in it.

Usage examples:

	hsctl rm /home/user/old.h5
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0])
	},
}

func runCommand(cmd *cobra.Command, domain string) error {
	cfg, ok := ctxUtils.GetConfigFromContext(cmd.Context())
	if !ok {
		return errors.New("failed to get config from context")
	}

	sess, err := client.Open(cmd.Context(), cfg, domain, transport.ModeAppend)
	if err != nil {
		return fmt.Errorf("failed to open domain: %w", err)
	}
	defer sess.Close() //nolint:errcheck

	if err := sess.DeleteDomain(cmd.Context()); err != nil {
		return fmt.Errorf("failed to delete domain: %w", err)
	}

	presenter.Printf(cmd, "deleted %s\n", domain)

	return nil
}
