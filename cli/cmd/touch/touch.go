// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package touch

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
	Use:   "touch <domain>",
	Short: "Create a domain if it does not exist",
	Long: `This command opens the given domain for writing, creating it when it
does not exist yet, and prints the root group identifier.

Usage examples:

	hsctl touch /home/user/new.h5
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

	presenter.Println(cmd, sess.Root())

	return nil
}
