// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HDFGroup/hsgo/cli/cmd/get"
	"github.com/HDFGroup/hsgo/cli/cmd/info"
	"github.com/HDFGroup/hsgo/cli/cmd/ls"
	"github.com/HDFGroup/hsgo/cli/cmd/rm"
	"github.com/HDFGroup/hsgo/cli/cmd/touch"
	ctxUtils "github.com/HDFGroup/hsgo/cli/util/context"
	"github.com/HDFGroup/hsgo/client"
	"github.com/HDFGroup/hsgo/utils/logging"
)

var rootOpts struct {
	Endpoint string
	Bucket   string
	LogLevel string
}

func main() {
	if err := Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func Run() error {
	cmd := NewCommand()

	return cmd.Execute() //nolint:wrapcheck
}

// NewCommand assembles the hsctl command tree. Configuration comes from the
// user's .hscfg file and HS_* environment variables, with flags taking
// precedence.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hsctl",
		Short:        "Inspect and manage remote HSDS domains",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if rootOpts.Endpoint != "" {
				cfg.Endpoint = rootOpts.Endpoint
			}

			if rootOpts.Bucket != "" {
				cfg.Bucket = rootOpts.Bucket
			}

			if rootOpts.LogLevel != "" {
				cfg.LogLevel = rootOpts.LogLevel
			}

			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}

			cmd.SetContext(ctxUtils.WithConfig(cmd.Context(), cfg))

			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&rootOpts.Endpoint, "endpoint", "", "Server endpoint, overrides HS_ENDPOINT.")
	flags.StringVar(&rootOpts.Bucket, "bucket", "", "Storage bucket, overrides HS_BUCKET.")
	flags.StringVar(&rootOpts.LogLevel, "loglevel", "", "Log level (debug, info, warn, error).")

	cmd.AddCommand(
		info.Command,
		ls.Command,
		touch.Command,
		rm.Command,
		get.Command,
	)

	return cmd
}
