// Package linkindex extracts page references from block content and maintains
// the derived backlink index.
package linkindex

import (
	"regexp"
	"strings"
)

var (
	pageRefRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe     = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Extract scans content for the two reference syntaxes and returns the
// referenced page names, deduplicated, in order of first appearance. Names
// are returned as written; resolution to pages happens in Reindex.
func Extract(content string) (pageRefs, tagRefs []string) {
	seen := make(map[string]struct{})
	for _, m := range pageRefRe.FindAllStringSubmatch(content, -1) {
		raw := m[1]
		// [[Target|Alias]] references Target.
		if i := strings.Index(raw, "|"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(raw)]; dup {
			continue
		}
		seen[strings.ToLower(raw)] = struct{}{}
		pageRefs = append(pageRefs, raw)
	}

	seenTags := make(map[string]struct{})
	for _, m := range tagRe.FindAllStringSubmatch(content, -1) {
		t := m[1]
		if _, dup := seenTags[strings.ToLower(t)]; dup {
			continue
		}
		seenTags[strings.ToLower(t)] = struct{}{}
		tagRefs = append(tagRefs, t)
	}
	return pageRefs, tagRefs
}
