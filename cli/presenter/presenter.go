// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package presenter renders command output on the writers cobra hands us, so
// tests can capture everything a command prints.
package presenter

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// Print writes values to the command's stdout.
func Print(cmd *cobra.Command, a ...any) {
	fmt.Fprint(cmd.OutOrStdout(), a...)
}

// Println writes values followed by a newline to the command's stdout.
func Println(cmd *cobra.Command, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), a...)
}

// Printf writes a formatted string to the command's stdout.
func Printf(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, a...)
}

// Error writes a formatted string to the command's stderr.
func Error(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), format, a...)
}

// NewTable returns a table writer bound to the command's stdout with the
// given header.
func NewTable(cmd *cobra.Command, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)

	if len(header) > 0 {
		t.AppendHeader(table.Row(header))
	}

	return t
}
