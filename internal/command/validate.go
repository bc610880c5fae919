package command

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// maxPathLength bounds path and directory arguments.
	maxPathLength = 500
	// minQueryLength and maxQueryLength bound search query text.
	minQueryLength = 2
	maxQueryLength = 200
	// maxPatternLength bounds the optional search file pattern.
	maxPatternLength = 200
)

// forbiddenPathChars are rejected in path arguments alongside control bytes.
const forbiddenPathChars = `<>:"|?*`

// ValidationError accumulates every rule violation for a command.
//
// Violations are collected rather than short-circuited so the user sees all
// problems at once. Messages are safe to surface verbatim.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid command: " + strings.Join(e.Violations, "; ")
}

// Validate checks a parsed command's arguments against safety rules.
//
// Validation is a pure function of the Command: validating the same command
// twice yields identical results.
func Validate(cmd Command) error {
	var violations []string

	switch cmd.Kind {
	case KindFileRead:
		violations = append(violations, checkPath("path", cmd.Path)...)
	case KindFileList:
		violations = append(violations, checkPath("directory", cmd.Directory)...)
	case KindSearch:
		violations = append(violations, checkQuery(cmd.Query)...)
		violations = append(violations, checkPattern(cmd.Pattern)...)
	case KindStatus, KindHelp:
		// No arguments to validate.
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// checkPath enforces the path safety rules shared by read and list targets.
func checkPath(field, path string) []string {
	var out []string
	if path == "" {
		out = append(out, fmt.Sprintf("%s is required", field))
		return out
	}
	if len(path) > maxPathLength {
		out = append(out, fmt.Sprintf("%s exceeds %d characters", field, maxPathLength))
	}
	if isAbsolutePath(path) {
		out = append(out, fmt.Sprintf("%s must be relative to the workspace root", field))
	}
	if hasTraversal(path) {
		out = append(out, fmt.Sprintf("%s contains a path traversal segment (PATH_TRAVERSAL_DETECTED)", field))
	}
	if chars := forbiddenChars(path); chars != "" {
		out = append(out, fmt.Sprintf("%s contains forbidden characters: %s", field, chars))
	}
	return out
}

func checkQuery(query string) []string {
	var out []string
	if len(query) < minQueryLength {
		out = append(out, fmt.Sprintf("search query must be at least %d characters", minQueryLength))
	}
	if len(query) > maxQueryLength {
		out = append(out, fmt.Sprintf("search query exceeds %d characters", maxQueryLength))
	}
	return out
}

func checkPattern(pattern string) []string {
	if pattern == "" {
		return nil
	}
	var out []string
	if len(pattern) > maxPatternLength {
		out = append(out, fmt.Sprintf("pattern exceeds %d characters", maxPatternLength))
	}
	if _, err := regexp.Compile(pattern); err != nil {
		out = append(out, fmt.Sprintf("pattern is not a valid regular expression: %v", err))
	}
	return out
}

// isAbsolutePath rejects unix absolute, Windows drive, and UNC forms.
func isAbsolutePath(path string) bool {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\\`) {
		return true
	}
	if len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return true
	}
	return false
}

// hasTraversal reports whether any slash-separated segment is "..".
func hasTraversal(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// forbiddenChars returns the offending characters found in path, if any.
func forbiddenChars(path string) string {
	var found []rune
	for _, r := range path {
		if r < 0x20 || r == 0x7f || unicode.IsControl(r) || strings.ContainsRune(forbiddenPathChars, r) {
			if !strings.ContainsRune(string(found), r) {
				found = append(found, r)
			}
		}
	}
	if len(found) == 0 {
		return ""
	}
	return string(found)
}
