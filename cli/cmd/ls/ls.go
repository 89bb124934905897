// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package ls

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/cli/presenter"
	ctxUtils "github.com/HDFGroup/hsgo/cli/util/context"
	"github.com/HDFGroup/hsgo/client"
	"github.com/HDFGroup/hsgo/client/transport"
)

var Command = &cobra.Command{
	Use:   "ls [path]",
	Short: "List the links of a group",
	Long: `This command lists the links of the group at the given path inside a
domain, starting from the root group when no path is given.

Usage examples:

1. Root group:

	hsctl ls --domain /home/user/data.h5

2. Nested group:

	hsctl ls --domain /home/user/data.h5 /g1/g2
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return errors.New("only one path is allowed")
		}

		path := "/"
		if len(args) == 1 {
			path = args[0]
		}

		return runCommand(cmd, path)
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

	titles := make([]string, 0, len(node.Links))
	for title := range node.Links {
		titles = append(titles, title)
	}

	sort.Strings(titles)

	t := presenter.NewTable(cmd, "name", "class", "target")

	for _, title := range titles {
		link := node.Links[title]
		if link.Deleted {
			continue
		}

		t.AppendRow([]any{title, link.Class.String(), linkTarget(link)})
	}

	t.Render()

	return nil
}

func linkTarget(link *corev1.Link) string {
	switch link.Class {
	case corev1.HardLink:
		return string(link.Target)
	case corev1.ExternalLink:
		return link.Domain + ":" + link.Path
	default:
		return link.Path
	}
}
