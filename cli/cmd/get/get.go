// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package get

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/HDFGroup/hsgo/cli/presenter"
	ctxUtils "github.com/HDFGroup/hsgo/cli/util/context"
	"github.com/HDFGroup/hsgo/client"
	"github.com/HDFGroup/hsgo/client/transport"
)

// fs is swapped for an in-memory filesystem in tests.
var fs = afero.NewOsFs()

var Command = &cobra.Command{
	Use:   "get <path>",
	Short: "Dump the description of an object",
	Long: `This command resolves the object at the given path inside a domain and
dumps its description (type, shape, attributes, links) as JSON.

Usage examples:

1. To standard output:

	hsctl get --domain /home/user/data.h5 /g1/dset

2. Into a file:

	hsctl get --domain /home/user/data.h5 /g1/dset --output dset.json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0])
	},
}

func runCommand(cmd *cobra.Command, path string) error {
	cfg, ok := ctxUtils.GetConfigFromContext(cmd.Context())
	if !ok {
		return errors.New("failed to get config from context")
	}

	if opts.Domain == "" {
		return errors.New("no domain set")
	}

	sess, err := client.Open(cmd.Context(), cfg, opts.Domain, transport.ModeRead)
	if err != nil {
		return fmt.Errorf("failed to open domain: %w", err)
	}
	defer sess.Close() //nolint:errcheck

	node, err := sess.GetByPath(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	out := map[string]any{
		"id":   node.ID,
		"path": path,
	}

	if node.Type != nil {
		out["type"] = node.Type
	}

	if node.Shape != nil {
		out["shape"] = node.Shape
	}

	if len(node.Attributes) > 0 {
		out["attributes"] = node.Attributes
	}

	if len(node.Links) > 0 {
		out["links"] = node.Links
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}

	if opts.Output == "" {
		presenter.Println(cmd, string(data))

		return nil
	}

	if err := afero.WriteFile(fs, opts.Output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}

	presenter.Printf(cmd, "wrote %s\n", opts.Output)

	return nil
}
