// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for pyfreeze.
//
// This package implements the Cobra command hierarchy for the pyfreeze CLI:
// the root command, graph analysis of entry-point scripts, single-file scans,
// configuration inspection and hook listing. Commands receive an App and
// build the analysis pipeline from the effective configuration.
package cmd
