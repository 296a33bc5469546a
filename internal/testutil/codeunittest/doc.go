// SPDX-License-Identifier: MPL-2.0

// Package codeunittest provides a tiny assembler for building bytecode.CodeUnit
// values in tests without compiling real Python sources.
//
// This package is separate from testutil because it depends on
// internal/bytecode, whose own tests use it.
//
// # Usage
//
//	mod := codeunittest.Module("<module>").
//		Import("os", 0).Store("os").
//		JumpIfFalse("skip").
//		Import("json", 0).Store("json").
//		Label("skip").
//		Return().
//		Build()
package codeunittest
