package command

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports unparseable input. The text is safe to show to the user.
type ParseError struct {
	// Input is the normalized input that failed to parse.
	Input string
	// Message is a human-readable description.
	Message string
}

func (e *ParseError) Error() string { return e.Message }

var whitespaceRE = regexp.MustCompile(`\s+`)

// matcher attempts to turn normalized input into a Command.
type matcher struct {
	verbs []string
	build func(raw, rest string) Command
}

// matchers is the ordered list of command patterns; first match wins.
var matchers = []matcher{
	{
		verbs: []string{"read", "show", "cat", "open"},
		build: func(raw, rest string) Command {
			return Command{Kind: KindFileRead, Raw: raw, Path: rest}
		},
	},
	{
		verbs: []string{"list", "ls", "dir", "files"},
		build: func(raw, rest string) Command {
			if rest == "" {
				rest = "."
			}
			return Command{Kind: KindFileList, Raw: raw, Directory: rest}
		},
	},
	{
		verbs: []string{"search", "find", "grep"},
		build: func(raw, rest string) Command {
			query, pattern := splitSearchArgs(rest)
			return Command{Kind: KindSearch, Raw: raw, Query: query, Pattern: pattern}
		},
	},
	{
		verbs: []string{"status", "workspace", "info"},
		build: func(raw, rest string) Command {
			return Command{Kind: KindStatus, Raw: raw}
		},
	},
	{
		verbs: []string{"help", "commands", "?"},
		build: func(raw, rest string) Command {
			return Command{Kind: KindHelp, Raw: raw}
		},
	},
}

// Parse classifies a single line of chat text into a Command.
//
// Parse is total: for any input it returns either a Command or a *ParseError,
// never both and never a panic.
func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(whitespaceRE.ReplaceAllString(input, " "))
	if raw == "" {
		return Command{}, &ParseError{Input: raw, Message: "empty command"}
	}

	verb := raw
	rest := ""
	if idx := strings.IndexByte(raw, ' '); idx >= 0 {
		verb = raw[:idx]
		rest = strings.TrimSpace(raw[idx+1:])
	}
	verb = strings.ToLower(verb)

	for _, m := range matchers {
		for _, v := range m.verbs {
			if verb == v {
				return m.build(raw, rest), nil
			}
		}
	}

	return Command{}, &ParseError{
		Input:   raw,
		Message: fmt.Sprintf("unknown command %q", verb),
	}
}

// splitSearchArgs separates the search query from an optional file pattern.
//
// Two suffix forms are accepted: "... in <pattern>" and "... pattern:<p>".
func splitSearchArgs(rest string) (query, pattern string) {
	if idx := strings.LastIndex(rest, " pattern:"); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+len(" pattern:"):])
	}
	if strings.HasPrefix(rest, "pattern:") {
		return "", strings.TrimSpace(rest[len("pattern:"):])
	}
	if idx := strings.LastIndex(rest, " in "); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+len(" in "):])
	}
	return rest, ""
}
