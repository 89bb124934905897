// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package info

var opts = &options{}

type options struct {
	Domain string
}

func init() {
	flags := Command.Flags()
	flags.StringVar(&opts.Domain, "domain", "",
		"Domain path to summarize. Server information only if empty.")
}
