// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package ls

var opts = &options{}

type options struct {
	Domain string
}

func init() {
	flags := Command.Flags()
	flags.StringVar(&opts.Domain, "domain", "",
		"Domain path to list.")
}
