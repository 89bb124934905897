// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package get

var opts = &options{}

type options struct {
	Domain string
	Output string
}

func init() {
	flags := Command.Flags()
	flags.StringVar(&opts.Domain, "domain", "",
		"Domain path holding the object.")
	flags.StringVar(&opts.Output, "output", "",
		"File to write the description to. Standard output if empty.")
}
