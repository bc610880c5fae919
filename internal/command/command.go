// Package command turns free-form chat text into typed, validated workspace
// commands.
//
// Parsing and validation are deliberately separate passes: parsing classifies
// the text into a Command variant, validation checks the variant's arguments
// against path/query safety rules. Callers can re-validate a parsed Command
// without re-parsing.
package command

import (
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

// Kind discriminates the Command variants.
type Kind string

const (
	KindFileRead Kind = "file_read"
	KindFileList Kind = "file_list"
	KindSearch   Kind = "search"
	KindStatus   Kind = "status"
	KindHelp     Kind = "help"
)

// Command is a parsed chat command. Immutable once parsed.
type Command struct {
	// Kind selects the variant.
	Kind Kind
	// Raw is the original input text, whitespace-normalized.
	Raw string
	// Path is the target file for KindFileRead.
	Path string
	// Directory is the target directory for KindFileList. Defaults to ".".
	Directory string
	// Query is the search text for KindSearch.
	Query string
	// Pattern optionally restricts KindSearch to matching file names.
	Pattern string
}

// Spec converts the command into its wire representation for dispatch to a
// workspace agent. Help has no wire form and returns a zero spec.
func (c Command) Spec() wire.CommandSpec {
	switch c.Kind {
	case KindFileRead:
		return wire.CommandSpec{Kind: string(KindFileRead), Path: c.Path}
	case KindFileList:
		return wire.CommandSpec{Kind: string(KindFileList), Directory: c.Directory}
	case KindSearch:
		return wire.CommandSpec{Kind: string(KindSearch), Query: c.Query, Pattern: c.Pattern}
	case KindStatus:
		return wire.CommandSpec{Kind: string(KindStatus)}
	default:
		return wire.CommandSpec{}
	}
}

// CacheKey returns a stable key identifying the command shape for result
// caching. Search commands are never cached and return "".
func (c Command) CacheKey() string {
	switch c.Kind {
	case KindFileRead:
		return "read:" + c.Path
	case KindFileList:
		return "list:" + c.Directory
	case KindStatus:
		return "status"
	default:
		return ""
	}
}

// Cacheable reports whether results for this command may be served from and
// written to the result cache.
func (c Command) Cacheable() bool {
	return c.CacheKey() != ""
}
