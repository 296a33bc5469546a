// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes CUE documents against an embedded schema.
//
// Decode compiles the schema, unifies the document with one of its
// definitions, validates the result and decodes it into a Go value. Errors
// name the offending field as a JSON-style path:
//
//	pyfreeze.cue: python.version: conflicting values "3.7" and "3.8" | "3.9" | "3.10"
//
// The implied-dependency table decodes into a struct; the configuration file
// decodes into a map so that it can be merged with defaults and environment
// overrides.
package cueutil
