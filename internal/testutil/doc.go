// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests that fail the test on error
// instead of returning it.
//
// Fixture helpers (MustWriteFile, MustWriteTree, MustMkdirAll) build search
// path trees; CloseOnCleanup releases stores opened by a test.
package testutil
