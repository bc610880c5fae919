package notify

import (
	"fmt"
	"strings"
)

// icons maps notification types to their message glyph.
var icons = map[Type]string{
	TypeBuild:         "🔨",
	TypeError:         "🚨",
	TypeSourceControl: "🔀",
	TypeFileChange:    "📝",
	TypeSystem:        "ℹ️",
}

// defaultIcon is used for unrecognized types.
const defaultIcon = "🔔"

func icon(t Type) string {
	if ic, ok := icons[t]; ok {
		return ic
	}
	return defaultIcon
}

// FormatSingle renders one notification as a direct message.
func FormatSingle(n Notification) string {
	return fmt.Sprintf("%s *%s*\n\n%s", icon(n.Type), n.Title, n.Body)
}

// FormatBatch renders multiple notifications as one numbered digest in
// arrival order.
func FormatBatch(ns []Notification) string {
	if len(ns) == 1 {
		return FormatSingle(ns[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *%d Workspace Updates*", len(ns))
	for i, n := range ns {
		fmt.Fprintf(&b, "\n\n%d. %s *%s*\n   %s", i+1, icon(n.Type), n.Title, n.Body)
	}
	return b.String()
}
