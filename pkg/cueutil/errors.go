// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned for documents above the size limit.
var ErrFileTooLarge = errors.New("file too large")

// ValidationError is one rejected field of a document.
type ValidationError struct {
	// FilePath names the document.
	FilePath string
	// CUEPath is the field in JSON-path notation, e.g. "excludes[2]".
	CUEPath string
	Message string
	// Suggestion is an optional hint shown to the user.
	Suggestion string
	// Err classifies the problem; it may be nil.
	Err error
}

func (e *ValidationError) Error() string {
	if e.CUEPath == "" {
		return e.FilePath + ": " + e.Message
	}
	return e.FilePath + ": " + e.CUEPath + ": " + e.Message
}

// Unwrap returns the classifying sentinel.
func (e *ValidationError) Unwrap() error { return e.Err }

// FormatError prefixes each CUE error in err with filePath and the field path
// it refers to. Errors that are not CUE errors are wrapped unchanged.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	lines := make([]string, 0, len(list))
	for _, e := range list {
		path := jsonPath(cueerrors.Path(e))
		msg := e.Error()
		if path == "" {
			lines = append(lines, msg)
			continue
		}
		// CUE repeats the path at the front of some messages.
		if rest, ok := strings.CutPrefix(msg, path); ok {
			msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		}
		lines = append(lines, path+": "+msg)
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filePath, lines[0])
	}
	return fmt.Errorf("%s: %d errors:\n  %s", filePath, len(lines), strings.Join(lines, "\n  "))
}

// jsonPath renders ["excludes", "2"] as "excludes[2]". A leading numeric
// element is kept as a plain selector.
func jsonPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		switch {
		case i > 0 && isIndex(part):
			b.WriteString("[" + part + "]")
		case i > 0:
			b.WriteString("." + part)
		default:
			b.WriteString(part)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize fails with ErrFileTooLarge when data exceeds maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if size := int64(len(data)); size > maxSize {
		return fmt.Errorf("%s: %w: %d bytes, limit %d", filename, ErrFileTooLarge, size, maxSize)
	}
	return nil
}
