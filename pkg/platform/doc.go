// SPDX-License-Identifier: MPL-2.0

// Package platform describes the target platforms a module graph can be
// built for. A target is identified by its os.name value; it decides which
// path module implements os.path and which suffixes native extensions use.
package platform
