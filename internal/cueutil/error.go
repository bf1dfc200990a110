// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
)

// FormatError converts a CUE error into a message listing every failing path.
// Non-CUE errors are prefixed with filePath.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	lines := Problems(err)
	switch len(lines) {
	case 0:
		return fmt.Errorf("%s: %w", filePath, err)
	case 1:
		return fmt.Errorf("%s: %s", filePath, lines[0])
	default:
		return fmt.Errorf("%s: validation failed:\n  %s", filePath, strings.Join(lines, "\n  "))
	}
}

// Problems flattens a CUE error into one "path: message" line per finding.
// A non-CUE error yields its own message.
func Problems(err error) []string {
	if err == nil {
		return nil
	}
	cueErrors := errors.Errors(err)
	if len(cueErrors) == 0 {
		return []string{err.Error()}
	}

	lines := make([]string, 0, len(cueErrors))
	for _, e := range cueErrors {
		pathStr := formatPath(errors.Path(e))
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if pathStr != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", pathStr, msg))
		} else {
			lines = append(lines, msg)
		}
	}
	return lines
}

// CheckFileSize rejects inputs larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, len(data), maxSize)
	}
	return nil
}

// formatPath renders a CUE path, showing numeric selectors as indices.
func formatPath(path []string) string {
	if len(path) == 0 {
		return ""
	}

	var result strings.Builder
	for i, part := range path {
		isIndex := part != ""
		for _, c := range part {
			if c < '0' || c > '9' {
				isIndex = false
				break
			}
		}

		if isIndex && i > 0 {
			result.WriteString("[")
			result.WriteString(part)
			result.WriteString("]")
		} else {
			if i > 0 {
				result.WriteString(".")
			}
			result.WriteString(part)
		}
	}

	return result.String()
}
