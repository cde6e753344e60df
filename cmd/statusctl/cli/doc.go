// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind statusctl.
//
// A [Command] tree is dispatched by name: the first positional
// argument selects a subcommand, the rest are parsed against the
// command's pflag set and handed to Run. Unknown commands and flags
// get an edit-distance suggestion. Commands that want a particular
// exit status without an extra error line return an [ExitError].
package cli
