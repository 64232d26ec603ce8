package capability

import (
	"fmt"
	"sort"
	"strings"
)

// NoTools is the manifest produced for an empty registry.
const NoTools = "(no tools available)"

// BuildManifest renders every registered helper as a markdown list grouped by
// module. Output is sorted by qualified name, so the same registry always
// yields the same bytes.
func BuildManifest(r *Registry) string {
	defs := r.Available()
	if len(defs) == 0 {
		return NoTools
	}

	var b strings.Builder
	module := ""
	for _, d := range defs {
		if d.Module != module {
			if module != "" {
				b.WriteString("\n")
			}
			module = d.Module
			fmt.Fprintf(&b, "## %s\n", module)
		}
		fmt.Fprintf(&b, "- **%s**(%s)", d.QualifiedName(), d.Signature())
		if d.Returns != "" {
			fmt.Fprintf(&b, " -> %s", d.Returns)
		}
		b.WriteString("\n")
		if doc := firstLine(d.Doc); doc != "" {
			fmt.Fprintf(&b, "  %s\n", doc)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// Snippet returns a python3 snippet that calls the helper with keyword
// arguments. Argument values are python literals and are emitted sorted by name.
func Snippet(d ToolDefinition, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kwargs := make([]string, 0, len(keys))
	for _, k := range keys {
		kwargs = append(kwargs, k+"="+args[k])
	}

	return fmt.Sprintf("from desktop_assist.%s import %s\nresult = %s(%s)\nprint(repr(result))",
		d.Module, d.Name, d.Name, strings.Join(kwargs, ", "))
}
