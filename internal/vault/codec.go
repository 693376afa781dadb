package vault

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/starford/odal/internal/model"
)

// Encode renders outline lines as a Markdown bullet list, one block per
// line, nesting expressed with leading tabs.
func Encode(lines []model.OutlineLine) []byte {
	var buf bytes.Buffer
	for _, ln := range lines {
		for i := 0; i < ln.Indent; i++ {
			buf.WriteByte('\t')
		}
		buf.WriteString("- ")
		buf.WriteString(ln.Content)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses a Markdown bullet list back into outline lines. Blank lines
// are skipped; a line without a bullet prefix is tolerated and treated as a
// bullet at its indent.
func Decode(data []byte) []model.OutlineLine {
	var out []model.OutlineLine
	for _, raw := range strings.Split(string(data), "\n") {
		indent := 0
		for indent < len(raw) && raw[indent] == '\t' {
			indent++
		}
		text := strings.TrimSpace(raw[indent:])
		if text == "" {
			continue
		}
		text = strings.TrimPrefix(text, "- ")
		out = append(out, model.OutlineLine{Content: text, Indent: indent})
	}
	return out
}

// PageFile maps a page name to its vault file path.
func PageFile(name string) string {
	return filepath.FromSlash(name) + ".md"
}

// PageName maps a vault file path back to its page name.
func PageName(rel string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), ".md")
}
