// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger returns a structured logger writing to w. A
// terminal gets slog's text format; anything else (a pipe, a file, a
// test buffer) gets JSON lines in the daemon's log format.
//
// Commands scope it with With:
//
//	logger := cli.NewCommandLogger(stderr).With("command", "watch", "socket", socketPath)
func NewCommandLogger(w io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isTerminal(w) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
