// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package logging provides named, leveled loggers for hsgo subsystems.
// Levels can be controlled globally with SetLevel or per-subsystem via
// the GOLOG_LOG_LEVEL environment variable.
package logging

import (
	golog "github.com/ipfs/go-log/v2"
)

// Logger returns a named logger for the given subsystem.
func Logger(name string) *golog.ZapEventLogger {
	return golog.Logger(name)
}

// SetLevel sets the log level for all subsystems.
func SetLevel(level string) error {
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return err //nolint:wrapcheck
	}

	golog.SetAllLoggers(lvl)

	return nil
}
