package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_FileRead(t *testing.T) {
	cmd, err := Parse("read src/index.ts")
	require.NoError(t, err)
	require.Equal(t, KindFileRead, cmd.Kind)
	require.Equal(t, "src/index.ts", cmd.Path)
}

func TestParse_Aliases(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{"show main.go", KindFileRead},
		{"cat README.md", KindFileRead},
		{"open cmd/server/main.go", KindFileRead},
		{"list src", KindFileList},
		{"ls", KindFileList},
		{"dir internal", KindFileList},
		{"files pkg", KindFileList},
		{"search TODO", KindSearch},
		{"find handleMessage", KindSearch},
		{"grep Dispatcher", KindSearch},
		{"status", KindStatus},
		{"workspace", KindStatus},
		{"info", KindStatus},
		{"help", KindHelp},
		{"commands", KindHelp},
		{"?", KindHelp},
	}
	for _, tt := range tests {
		cmd, err := Parse(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		require.Equal(t, tt.kind, cmd.Kind, "input %q", tt.input)
	}
}

func TestParse_ListDefaultsToDot(t *testing.T) {
	cmd, err := Parse("ls")
	require.NoError(t, err)
	require.Equal(t, ".", cmd.Directory)
}

func TestParse_SearchPatternSuffixes(t *testing.T) {
	cmd, err := Parse("search connect timeout in *.go")
	require.NoError(t, err)
	require.Equal(t, "connect timeout", cmd.Query)
	require.Equal(t, "*.go", cmd.Pattern)

	cmd, err = Parse("grep retry pattern:.*_test\\.go")
	require.NoError(t, err)
	require.Equal(t, "retry", cmd.Query)
	require.Equal(t, ".*_test\\.go", cmd.Pattern)
}

func TestParse_NormalizesWhitespace(t *testing.T) {
	cmd, err := Parse("  read \t src/app.ts  ")
	require.NoError(t, err)
	require.Equal(t, "read src/app.ts", cmd.Raw)
	require.Equal(t, "src/app.ts", cmd.Path)
}

func TestParse_CaseInsensitiveVerb(t *testing.T) {
	cmd, err := Parse("READ src/app.ts")
	require.NoError(t, err)
	require.Equal(t, KindFileRead, cmd.Kind)
}

func TestParse_UnknownCommand(t *testing.T) {
	_, err := Parse("frobnicate the widgets")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Message, "unknown command")
}

// Parse must be total: arbitrary garbage yields a ParseError, never a panic.
func TestParse_TotalFunction(t *testing.T) {
	inputs := []string{
		"", "   ", "\t\n", "???", "read", "sea rch foo",
		"\x00\x01\x02", "ls -la && rm -rf /", "読む src/main.go",
	}
	for _, in := range inputs {
		cmd, err := Parse(in)
		if err != nil {
			var perr *ParseError
			require.ErrorAs(t, err, &perr, "input %q", in)
			continue
		}
		require.NotEmpty(t, cmd.Kind, "input %q", in)
	}
}
