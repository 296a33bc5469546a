// SPDX-License-Identifier: MPL-2.0

// Package issue holds the user-facing help for every failure class of the
// CLI. An Issue is a Markdown document rendered with glamour; an
// ActionableError is a single failure with hints on what to try next.
package issue
