// SPDX-License-Identifier: MPL-2.0

// Package modgraph builds the module dependency graph of a Python program
// from its compiled code, without executing it.
//
// File organization:
//   - node.go: the closed set of node variants and their shared base
//   - depinfo.go: DependencyInfo edge payloads and their merge rule
//   - builder.go: Builder, its options, entry points and the work loop
//   - resolve.go: turning an import reference into a node
//   - hooks.go: the narrow API hook collaborators act through
//   - findings.go: soft findings and the Result handed to reporting sinks
package modgraph
